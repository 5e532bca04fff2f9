package sqlinline

const QSelectIntegrationToken = `--sql 92f6fb88-dda7-4822-8ecc-e6f7b74d10ea
select token from integration_tokens where provider = $1::text;
`

const QUpsertIntegrationToken = `--sql 2f34eb36-99c6-4ad9-8154-68f8d91fdf4d
insert into integration_tokens(provider, token, props, updated_at)
values ($1::text, $2::text, $3::jsonb, now())
on conflict (provider) do update
set token = excluded.token, props = excluded.props, updated_at = now();
`
