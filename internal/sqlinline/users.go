package sqlinline

// QUpsertUserWithWelcome creates the account on first sight and grants the
// welcome credits in the same statement. The xmax = 0 check distinguishes a
// fresh insert from a conflict update, so replaying the upsert never grants
// the welcome balance twice.
const QUpsertUserWithWelcome = `--sql 9b3bded1-9d8a-4624-ac39-dfda60114759
with upserted as (
  insert into users(id, email, locale, credits_remaining, active_plan, stripe_customer_id, stripe_subscription_id, created_at, updated_at)
  values ($1::uuid, $2::text, $3::text, $4::int, '', '', '', now(), now())
  on conflict (id) do update set email = excluded.email, updated_at = now()
  returning id, (xmax = 0) as created
),
welcome as (
  insert into credit_ledger(id, user_id, delta, reason, related_id, created_at)
  select gen_random_uuid(), id, $4::int, 'welcome', '', now()
  from upserted
  where created and $4::int > 0
)
select id, created from upserted;
`

const QSelectUser = `--sql 1f4536d4-fbe3-46e0-986d-87e246241360
select id, email, locale, credits_remaining, active_plan, credits_renew_at, stripe_customer_id, stripe_subscription_id, created_at, updated_at
from users
where id = $1::uuid;
`

const QSelectUserByCustomer = `--sql d45a9330-df18-49c1-ad71-e47a6351a510
select id, email, locale, credits_remaining, active_plan, credits_renew_at, stripe_customer_id, stripe_subscription_id, created_at, updated_at
from users
where stripe_customer_id = $1::text;
`

const QLinkStripeCustomer = `--sql 9117399f-a911-456a-8326-cf9ffa55d696
update users
set stripe_customer_id = $2::text, updated_at = now()
where id = $1::uuid;
`

// QClearPlan removes subscription state without touching the credit balance:
// previously granted credits remain spendable after cancellation.
const QClearPlan = `--sql 18ac00b7-2e12-4f40-bde9-dc9cbf03b353
update users
set active_plan = '', credits_renew_at = null, stripe_subscription_id = '', updated_at = now()
where id = $1::uuid;
`
