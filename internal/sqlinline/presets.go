package sqlinline

const QUpsertPreset = `--sql 6b6555a7-9c03-4526-af46-8568e5348cc3
insert into generation_presets (name, config, created_at, updated_at)
values ($1::text, $2::jsonb, now(), now())
on conflict (name) do update set
    config = excluded.config,
    updated_at = now()
returning updated_at;
`

const QSelectPreset = `--sql 89cf289f-7f9e-478e-8b02-d527fffe8ea0
select name, config, updated_at
from generation_presets
where name = $1::text
limit 1;
`

const QListPresets = `--sql e1ab37ee-e465-4dc3-9823-c73ec661289b
select name, config, updated_at
from generation_presets
order by name asc;
`

const QDeletePreset = `--sql bf3aa316-b09f-446d-938b-e842dc34daeb
delete from generation_presets
where name = $1::text;
`
