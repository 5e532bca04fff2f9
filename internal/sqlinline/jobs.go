package sqlinline

const QInsertJobAndVideo = `--sql a0bbc5ea-507c-4625-969d-418d076b5360
with job as (
  insert into jobs(id, user_id, task_id, status, error_reason, created_at, updated_at)
  values (gen_random_uuid(), $1::uuid, $2::text, 'QUEUED', '', now(), now())
  returning id
),
video as (
  insert into videos(task_id, user_id, prompt, video_url, resolution, degraded, created_at, updated_at)
  values ($2::text, $1::uuid, $3::text, '', '', false, now(), now())
  returning task_id
)
select job.id from job, video;
`

const QSelectJobByTask = `--sql 4496f194-e52a-458a-bb21-02a979e904b1
select id, coalesce(user_id::text, ''), task_id, status, error_reason, created_at, updated_at
from jobs
where task_id = $1::text;
`

const QSelectVideoByTask = `--sql 195a4478-1cbd-47a3-99df-d8cbcfbfdd45
select task_id, coalesce(user_id::text, ''), prompt, video_url, resolution, degraded, created_at, updated_at
from videos
where task_id = $1::text;
`

// QFinalizeJob performs the terminal compare-and-set. The status update only
// matches non-terminal rows, so whichever reconciliation path runs it second
// observes zero rows and reports a no-op. Video fields are applied in the same
// statement when the transition wins.
const QFinalizeJob = `--sql 1ffeb467-1648-400d-9e36-278e606b5495
with won as (
  update jobs
  set status = $2::text, error_reason = $3::text, updated_at = now()
  where task_id = $1::text and status not in ('READY', 'FAILED')
  returning task_id
),
applied as (
  update videos
  set video_url = coalesce(nullif($4::text, ''), video_url),
      resolution = coalesce(nullif($5::text, ''), resolution),
      degraded = $6::boolean,
      updated_at = now()
  where task_id in (select task_id from won) and $2::text = 'READY'
  returning task_id
)
select exists(select 1 from won);
`

// QApplyVideoResult re-applies artifact fields on replayed callbacks, but only
// when the video record still lacks a URL.
const QApplyVideoResult = `--sql efcff18a-eed5-4f57-a526-55956669f27a
update videos
set video_url = $2::text, resolution = $3::text, degraded = $4::boolean, updated_at = now()
where task_id = $1::text and video_url = '';
`

// QRekeyJobAndVideo renames the placeholder task id to the provider-assigned
// one for the job/video pair in a single statement, so a partial rekey cannot
// be observed. The job moves to PROCESSING as part of the same write.
const QRekeyJobAndVideo = `--sql 7390568a-7b6f-415b-a6a9-b173821abf02
with job as (
  update jobs set task_id = $2::text, status = 'PROCESSING', updated_at = now()
  where task_id = $1::text
  returning 1
),
video as (
  update videos set task_id = $2::text, updated_at = now()
  where task_id = $1::text
  returning 1
)
select (select count(*) from job) + (select count(*) from video);
`

const QListProcessingJobs = `--sql 9b4ff11b-34df-43f6-8378-ab077bc6632f
select id, coalesce(user_id::text, ''), task_id, status, error_reason, created_at, updated_at
from jobs
where status = 'PROCESSING'
order by created_at;
`

// QInsertOrphanJob records a callback for a task id this service never
// submitted. The row carries no user attribution; see the orphan_callback log
// marker emitted alongside it.
const QInsertOrphanJob = `--sql 4cc31dad-497f-4723-802b-5e63172a0690
with job as (
  insert into jobs(id, user_id, task_id, status, error_reason, created_at, updated_at)
  values (gen_random_uuid(), null, $1::text, $2::text, $3::text, now(), now())
  on conflict (task_id) do nothing
  returning task_id
),
video as (
  insert into videos(task_id, user_id, prompt, video_url, resolution, degraded, created_at, updated_at)
  select $1::text, null, '', $4::text, $5::text, $6::boolean, now(), now()
  where exists(select 1 from job)
  on conflict (task_id) do nothing
)
select exists(select 1 from job);
`
