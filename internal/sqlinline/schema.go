package sqlinline

// QCreatePresetsTable bootstraps the preset table on an empty database.
const QCreatePresetsTable = `--sql 3f0c2a44-5d6e-4b71-9a8c-1e2f3d4b5a69
create table if not exists generation_presets (
    name text primary key,
    config jsonb not null,
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);
`
