package repository

// schemaDDL documents the tables the Repository requires. Creating them
// is an operator task, not something the Repository does at runtime; Open
// only asserts the tables already exist, and mailgate refuses to start
// against a database that hasn't been bootstrapped.
//
// An operator runs this DDL (or an equivalent migration) once before first
// start.
const schemaDDL = `
CREATE TABLE messages (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id    TEXT NOT NULL UNIQUE,
	subject       TEXT NOT NULL DEFAULT '',
	sender        TEXT NOT NULL DEFAULT '',
	recipients    TEXT NOT NULL DEFAULT '[]',
	cc            TEXT NOT NULL DEFAULT '[]',
	bcc           TEXT NOT NULL DEFAULT '[]',
	text_body     TEXT NOT NULL DEFAULT '',
	html_body     TEXT NOT NULL DEFAULT '',
	date_sent     DATETIME,
	date_received DATETIME NOT NULL,
	raw_headers   TEXT NOT NULL DEFAULT '',
	dispatcher_id TEXT NOT NULL DEFAULT '',
	rfq           INTEGER NOT NULL DEFAULT 0,
	rfq_type      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX idx_messages_received ON messages(date_received);
CREATE INDEX idx_messages_sender ON messages(sender);

CREATE TABLE attachments (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id       INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	original_name    TEXT NOT NULL,
	stored_name      TEXT NOT NULL,
	file_path        TEXT NOT NULL,
	file_size        INTEGER NOT NULL,
	content_type     TEXT NOT NULL DEFAULT '',
	disposition_type TEXT NOT NULL DEFAULT '',
	content_id       TEXT NOT NULL DEFAULT '',
	extra            TEXT NOT NULL DEFAULT ''
);
CREATE INDEX idx_attachments_message ON attachments(message_id);

CREATE TABLE forward_records (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id         INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	to_addresses       TEXT NOT NULL DEFAULT '[]',
	cc_addresses       TEXT NOT NULL DEFAULT '[]',
	bcc_addresses      TEXT NOT NULL DEFAULT '[]',
	additional_message TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL DEFAULT 'pending',
	error_message      TEXT NOT NULL DEFAULT '',
	forwarded_at       DATETIME,
	created_at         DATETIME NOT NULL
);
CREATE INDEX idx_forward_records_message ON forward_records(message_id);

CREATE TABLE rules (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	name               TEXT NOT NULL,
	description        TEXT NOT NULL DEFAULT '',
	is_active          INTEGER NOT NULL DEFAULT 1,
	priority           INTEGER NOT NULL DEFAULT 0,
	stop_on_match      INTEGER NOT NULL DEFAULT 0,
	global_group_logic TEXT NOT NULL DEFAULT 'AND'
);

CREATE TABLE rule_condition_groups (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	rule_id    INTEGER NOT NULL REFERENCES rules(id) ON DELETE CASCADE,
	logic      TEXT NOT NULL DEFAULT 'AND',
	order_idx  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX idx_rule_groups_rule ON rule_condition_groups(rule_id);

CREATE TABLE rule_conditions (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	group_id       INTEGER NOT NULL REFERENCES rule_condition_groups(id) ON DELETE CASCADE,
	field          TEXT NOT NULL,
	operator       TEXT NOT NULL,
	match_value    TEXT NOT NULL DEFAULT '',
	case_sensitive INTEGER NOT NULL DEFAULT 0,
	order_idx      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX idx_rule_conditions_group ON rule_conditions(group_id);

CREATE TABLE rule_actions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	rule_id    INTEGER NOT NULL REFERENCES rules(id) ON DELETE CASCADE,
	type       TEXT NOT NULL,
	config     TEXT NOT NULL DEFAULT '{}',
	order_idx  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX idx_rule_actions_rule ON rule_actions(rule_id);
`

var requiredTables = []string{
	"messages", "attachments", "forward_records",
	"rules", "rule_condition_groups", "rule_conditions", "rule_actions",
}
