package sqlinline

const QListChats = `--sql b2f8ce55-6d53-4d3a-a889-ac021695250f
select id::text, name, draft, created_at, updated_at
from chats
order by updated_at desc, created_at desc;
`

const QInsertChat = `--sql 9f7a36ee-9c3b-474f-a7ec-c627d0371d98
insert into chats (id, name, draft, created_at, updated_at)
values (gen_random_uuid(), $1::text, coalesce($2::jsonb, '{}'::jsonb), now(), now())
returning id::text, name, draft, created_at, updated_at;
`

const QSelectChat = `--sql ba7e5117-51f7-4275-869d-ed0ce737dd08
select id::text, name, draft, created_at, updated_at
from chats
where id = $1::uuid;
`

const QUpdateChat = `--sql 15f7dc86-929a-4538-9b01-ee103c15b0da
update chats
set name = coalesce($2::text, name),
    draft = coalesce($3::jsonb, draft),
    updated_at = now()
where id = $1::uuid;
`

const QDeleteChat = `--sql 177815eb-f53d-4a4a-817f-26f019a97214
delete from chats
where id = $1::uuid;
`

const QListChatMessages = `--sql 6b634611-534f-4448-9eb8-3f223f885e10
select
  id::text,
  chat_id::text,
  role,
  content,
  attachments,
  status,
  cost,
  coalesce(job_id, ''),
  coalesce(remote_id, ''),
  coalesce(error_code, ''),
  coalesce(error, ''),
  created_at,
  updated_at
from chat_messages
where chat_id = $1::uuid
order by seq asc;
`

const QInsertChatMessage = `--sql 3994bb44-9886-4bf3-8e7f-38a2fe5a6980
with touched as (
  update chats set updated_at = now()
  where id = $1::uuid
  returning id
)
insert into chat_messages (
  id, chat_id, role, content, attachments, status, cost,
  job_id, remote_id, error_code, error, created_at, updated_at
)
select
  gen_random_uuid(),
  touched.id,
  $2::text,
  $3::text,
  coalesce($4::jsonb, '[]'::jsonb),
  $5::text,
  $6::jsonb,
  nullif($7::text, ''),
  nullif($8::text, ''),
  nullif($9::text, ''),
  nullif($10::text, ''),
  now(),
  now()
from touched
returning id::text;
`

const QPatchChatMessage = `--sql a060d0a3-5796-4a06-8609-2ce8c624b3c8
update chat_messages
set status = coalesce($3::text, status),
    content = coalesce($4::text, content),
    attachments = coalesce($5::jsonb, attachments),
    cost = coalesce($6::jsonb, cost),
    remote_id = coalesce($7::text, remote_id),
    error_code = coalesce($8::text, error_code),
    error = coalesce($9::text, error),
    job_id = coalesce($10::text, job_id),
    updated_at = now()
where chat_id = $1::uuid
  and id = $2::uuid;
`
