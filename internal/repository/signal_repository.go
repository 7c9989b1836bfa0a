package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"breakout-radar/internal/domain"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/trace"
)

type SignalRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewSignalRepository(pool PgxPool, tracer trace.Tracer) *SignalRepository {
	return &SignalRepository{pool: pool, tracer: tracer}
}

func (r *SignalRepository) RunMigrations(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, "signal-repo.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS signals (
			id BIGSERIAL PRIMARY KEY,
			symbol TEXT NOT NULL,
			interval TEXT NOT NULL,
			kind TEXT NOT NULL,
			direction TEXT NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			confidence SMALLINT NOT NULL DEFAULT 0,
			stop_loss DOUBLE PRECISION NOT NULL DEFAULT 0,
			take_profit DOUBLE PRECISION NOT NULL DEFAULT 0,
			timestamp TIMESTAMPTZ NOT NULL,
			details TEXT NOT NULL DEFAULT '',
			UNIQUE (symbol, interval, kind, direction, timestamp)
		)`)
	return err
}

func (r *SignalRepository) InsertSignals(ctx context.Context, signals []domain.Signal) ([]domain.Signal, error) {
	if len(signals) == 0 {
		return nil, nil
	}

	_, span := r.tracer.Start(ctx, "signal-repo.insert-signals")
	defer span.End()

	batch := &pgx.Batch{}
	for _, s := range signals {
		batch.Queue(
			`INSERT INTO signals (symbol, interval, kind, direction, price, confidence, stop_loss, take_profit, timestamp, details)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (symbol, interval, kind, direction, timestamp) DO UPDATE SET
			     price = EXCLUDED.price,
			     confidence = EXCLUDED.confidence,
			     stop_loss = EXCLUDED.stop_loss,
			     take_profit = EXCLUDED.take_profit,
			     details = EXCLUDED.details
			 RETURNING id`,
			s.Symbol,
			s.Interval,
			string(s.Kind),
			string(s.Direction),
			s.Price,
			int16(s.Confidence),
			s.StopLoss,
			s.TakeProfit,
			s.Timestamp.UTC(),
			s.Details,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	out := make([]domain.Signal, len(signals))
	copy(out, signals)
	for i := range signals {
		var id int64
		if err := br.QueryRow().Scan(&id); err != nil {
			return nil, err
		}
		out[i].ID = id
	}

	return out, nil
}

func (r *SignalRepository) ListSignals(ctx context.Context, filter domain.SignalFilter) ([]domain.Signal, error) {
	_, span := r.tracer.Start(ctx, "signal-repo.list-signals")
	defer span.End()

	args := make([]any, 0, 4)
	var sb strings.Builder
	sb.WriteString(`SELECT id, symbol, interval, kind, direction, price, confidence, stop_loss, take_profit, timestamp, details
		FROM signals
		WHERE 1=1`)

	if filter.Symbol != "" {
		args = append(args, strings.ToUpper(filter.Symbol))
		sb.WriteString(fmt.Sprintf(" AND symbol = $%d", len(args)))
	}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		sb.WriteString(fmt.Sprintf(" AND kind = $%d", len(args)))
	}
	if filter.Direction != "" {
		args = append(args, string(filter.Direction))
		sb.WriteString(fmt.Sprintf(" AND direction = $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	args = append(args, limit)
	sb.WriteString(fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", len(args)))

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	signals := make([]domain.Signal, 0, limit)
	for rows.Next() {
		var s domain.Signal
		var kind string
		var direction string
		var confidence int16
		var ts time.Time

		if err := rows.Scan(
			&s.ID,
			&s.Symbol,
			&s.Interval,
			&kind,
			&direction,
			&s.Price,
			&confidence,
			&s.StopLoss,
			&s.TakeProfit,
			&ts,
			&s.Details,
		); err != nil {
			return nil, err
		}
		s.Kind = domain.SignalKind(kind)
		s.Direction = domain.Direction(direction)
		s.Confidence = int(confidence)
		s.Timestamp = ts.UTC()
		signals = append(signals, s)
	}

	return signals, rows.Err()
}
