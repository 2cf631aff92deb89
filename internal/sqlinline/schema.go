package sqlinline

// Schema creates every table the Postgres store and the credential store use.
// It is idempotent.
const Schema = `--sql c851ce3e-dc19-43c0-b43f-09e28b3273b9
create extension if not exists pgcrypto;

create table if not exists chats (
  id uuid primary key,
  name text not null,
  draft jsonb not null default '{}'::jsonb,
  created_at timestamptz not null default now(),
  updated_at timestamptz not null default now()
);

create table if not exists chat_messages (
  id uuid primary key,
  seq bigserial not null,
  chat_id uuid not null references chats(id) on delete cascade,
  role text not null,
  content text not null default '',
  attachments jsonb not null default '[]'::jsonb,
  status text not null,
  cost jsonb,
  job_id text,
  remote_id text,
  error_code text,
  error text,
  created_at timestamptz not null default now(),
  updated_at timestamptz not null default now()
);

create index if not exists chat_messages_chat_seq_idx on chat_messages (chat_id, seq);

create table if not exists integration_tokens (
  id uuid primary key,
  kind text not null unique,
  token text not null,
  properties jsonb not null default '{}'::jsonb,
  created_at timestamptz not null default now(),
  updated_at timestamptz not null default now()
);
`
