package sqlite

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

func (s *Sqlite) initSchema(ctx context.Context) error {
	// the table may already exist if the queue is persistent
	if s.tableExists(ctx) {
		s.logger.Debug("queue table exists, skipping schema creation")
		return nil
	}

	table := quote(s.name)
	statements := []string{
		`create table ` + table + ` (
			id integer primary key autoincrement,
			message text,
			time integer not null
		);`,
		`create index id_index on ` + table + ` (id);`,
		`create index time_index on ` + table + ` (time);`,
	}

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	s.logger.Info("created queue table")
	return nil
}

// tableExists probes the queue table with a count; any error means the table
// is not there.
func (s *Sqlite) tableExists(ctx context.Context) bool {
	var count int64
	return s.db.GetContext(ctx, &count, `select count(*) from `+quote(s.name)) == nil
}
