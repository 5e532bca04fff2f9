package sqlinline

const QIsEventProcessed = `--sql a277dd97-2b95-46ec-a951-c873f65ff2e5
select exists(select 1 from processed_events where event_id = $1::text);
`

const QMarkEventProcessed = `--sql 1ff4060b-52a9-4df4-bf21-e8adebd7594e
insert into processed_events(event_id, event_type, created_at)
values ($1::text, $2::text, now())
on conflict (event_id) do nothing;
`

// QApplyRenewal is the credit grant transaction expressed as one statement.
// The invoice dedup insert anchors every other write: when the invoice was
// already processed the insert yields no row and the balance update, ledger
// entry and plan update all evaluate to nothing. The event marker is written
// unconditionally so redeliveries of the same event id short-circuit earlier.
const QApplyRenewal = `--sql bfebfe01-81a9-40e7-88b1-de12a0e5dd82
with invoice as (
  insert into processed_invoices(invoice_id, user_id, created_at)
  values ($1::text, $2::uuid, now())
  on conflict (invoice_id) do nothing
  returning invoice_id
),
balance as (
  update users
  set credits_remaining = credits_remaining + $3::int,
      active_plan = $4::text,
      credits_renew_at = $5::timestamptz,
      stripe_subscription_id = $6::text,
      updated_at = now()
  where id = $2::uuid and exists(select 1 from invoice)
  returning id
),
entry as (
  insert into credit_ledger(id, user_id, delta, reason, related_id, created_at)
  select gen_random_uuid(), $2::uuid, $3::int, 'subscription_renewal', $1::text, now()
  where exists(select 1 from invoice)
),
event as (
  insert into processed_events(event_id, event_type, created_at)
  values ($7::text, $8::text, now())
  on conflict (event_id) do nothing
)
select exists(select 1 from invoice);
`
