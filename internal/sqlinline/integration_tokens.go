package sqlinline

// Provider API keys, one row per credential kind.

const QSelectIntegrationToken = `--sql 4f3b9c2e-6a1d-4e8b-9f27-c05d8e1a7b63
select token
from integration_tokens
where kind = $1::text
  and token <> ''
limit 1;
`

const QUpsertIntegrationToken = `--sql 91d7e4a8-2c5b-4f60-8e13-b6a9f0c2d745
insert into integration_tokens (id, kind, token, properties)
values (gen_random_uuid(), $1::text, $2::text, coalesce($3::jsonb, '{}'::jsonb))
on conflict (kind) do update set
    token = excluded.token,
    properties = integration_tokens.properties || excluded.properties,
    updated_at = now();
`

const QDeleteIntegrationToken = `--sql 2a6e8f1c-9d34-4b7a-a5c0-7e1f3b9d6c28
delete from integration_tokens
where kind = $1::text;
`
