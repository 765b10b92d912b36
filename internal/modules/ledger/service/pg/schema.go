package pg

// Schema creates the document tables. Every row keeps the full record in doc.
const Schema = `
CREATE TABLE IF NOT EXISTS ledger_accounts (
    user_id TEXT PRIMARY KEY,
    doc     JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger_positions (
    id      TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    doc     JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS ledger_positions_user_id_idx ON ledger_positions (user_id);
CREATE INDEX IF NOT EXISTS ledger_positions_position_id_idx ON ledger_positions ((doc->>'position_id'));

CREATE TABLE IF NOT EXISTS ledger_history (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    doc        JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS ledger_history_user_created_idx ON ledger_history (user_id, created_at DESC);
`

const (
	openFilter = `NOT COALESCE((doc->>'closed')::boolean, false)`

	// physical id wins over a logical position_id match
	resolvePosition = `SELECT id FROM ledger_positions
        WHERE user_id = $1 AND (id = $2 OR doc->>'position_id' = $2)
        ORDER BY (id = $2) DESC LIMIT 1`

	qEnsureAccount = `INSERT INTO ledger_accounts (user_id, doc) VALUES ($1, $2)
        ON CONFLICT (user_id) DO NOTHING`

	qGetAccount = `SELECT doc FROM ledger_accounts WHERE user_id = $1`

	qGetAccountForUpdate = qGetAccount + ` FOR UPDATE`

	qMergeAccount = `INSERT INTO ledger_accounts (user_id, doc) VALUES ($1, $2::jsonb || $3::jsonb)
        ON CONFLICT (user_id) DO UPDATE SET doc = ledger_accounts.doc || $3::jsonb`

	qInsertPosition = `INSERT INTO ledger_positions (id, user_id, doc) VALUES ($1, $2, $3)`

	qListOpen = `SELECT id, doc FROM ledger_positions
        WHERE user_id = $1 AND ` + openFilter + `
        ORDER BY id`

	qUpdateOpen = `UPDATE ledger_positions SET doc = doc || $3::jsonb
        WHERE id = (` + resolvePosition + `) AND ` + openFilter

	qSelectOpenForUpdate = `SELECT id, doc FROM ledger_positions
        WHERE id = (` + resolvePosition + `) AND ` + openFilter + ` FOR UPDATE`

	qMergePosition = `UPDATE ledger_positions SET doc = doc || $2::jsonb WHERE id = $1`

	qInsertHistory = `INSERT INTO ledger_history (id, user_id, created_at, doc) VALUES ($1, $2, $3, $4)`

	qListHistory = `SELECT doc FROM ledger_history WHERE user_id = $1 ORDER BY created_at DESC, id DESC`
)
