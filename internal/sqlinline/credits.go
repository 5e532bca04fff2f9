package sqlinline

// QDebitOneCredit decrements the cached balance and appends the ledger entry
// in one statement. The conditional update is the concurrency guard: with a
// single credit left, only one of two racing submissions can match the
// credits_remaining >= 1 predicate.
const QDebitOneCredit = `--sql d84bdc53-c8c7-40db-aaeb-6c2f972a135a
with debited as (
  update users
  set credits_remaining = credits_remaining - 1, updated_at = now()
  where id = $1::uuid and credits_remaining >= 1
  returning id
),
entry as (
  insert into credit_ledger(id, user_id, delta, reason, related_id, created_at)
  select gen_random_uuid(), id, -1, 'video_generation', $2::text, now()
  from debited
)
select exists(select 1 from debited);
`

const QRefundCredit = `--sql e38fbbc4-d308-46d1-9ca0-0b31cc43f1a7
with refunded as (
  update users
  set credits_remaining = credits_remaining + 1, updated_at = now()
  where id = $1::uuid
  returning id
),
entry as (
  insert into credit_ledger(id, user_id, delta, reason, related_id, created_at)
  select gen_random_uuid(), id, 1, 'refund', $2::text, now()
  from refunded
)
select exists(select 1 from refunded);
`

const QGrantCredits = `--sql 40a2d189-e93a-41fd-813e-8424102cfffc
with granted as (
  update users
  set credits_remaining = credits_remaining + $2::int, updated_at = now()
  where id = $1::uuid
  returning id
),
entry as (
  insert into credit_ledger(id, user_id, delta, reason, related_id, created_at)
  select gen_random_uuid(), id, $2::int, $3::text, $4::text, now()
  from granted
)
select exists(select 1 from granted);
`

const QSelectBalance = `--sql c494efd6-58a1-4186-8a15-72f1143522c3
select credits_remaining from users where id = $1::uuid;
`

const QSelectLedgerEntries = `--sql f1c0903d-b1af-42b7-9626-e2de0311b515
select id, user_id, delta, reason, related_id, created_at
from credit_ledger
where user_id = $1::uuid
order by created_at desc
limit $2::int;
`
