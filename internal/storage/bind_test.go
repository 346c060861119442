package storage

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildBind encodes args the way pgx does for an extended-protocol Bind,
// with the parameter types Postgres reports when describing sql.
func buildBind(sql string, paramOIDs []uint32, args []any) error {
	var eqb pgx.ExtendedQueryBuilder
	sd := &pgconn.StatementDescription{SQL: sql, ParamOIDs: paramOIDs}
	return eqb.Build(pgtype.NewMap(), sd, args)
}

func TestPostgresStatementsBind(t *testing.T) {
	points := decimal.RequireFromString("0.7")
	now := time.Date(2026, 10, 19, 14, 0, 0, 0, time.UTC)
	date := day("2026-10-19")
	trig := Trigger{
		ID:            uuid.New(),
		AlertID:       7,
		FiredAt:       now,
		Reason:        "30-year rate 5.990% <= target 6.000%",
		RateAtTrigger: decimal.RequireFromString("0.0599"),
	}

	cases := []struct {
		name string
		sql  string
		oids []uint32
		args []any
	}{
		{
			name: "upsert rate",
			sql:  upsertRateSQL,
			oids: []uint32{pgtype.DateOID, pgtype.TextOID, pgtype.NumericOID, pgtype.NumericOID, pgtype.NumericOID, pgtype.TextOID},
			args: upsertRateArgs(RateWrite{
				Date:     date,
				RateType: "30_year_fixed",
				Rate:     decimal.RequireFromString("0.0662"),
				Points:   &points,
				Source:   "primary_api",
			}),
		},
		{
			name: "latest rate",
			sql:  latestRateSQL,
			oids: []uint32{pgtype.TextOID},
			args: []any{"30_year_fixed"},
		},
		{
			name: "latest rate before",
			sql:  latestRateBeforeSQL,
			oids: []uint32{pgtype.TextOID, pgtype.DateOID},
			args: []any{"30_year_fixed", date},
		},
		{
			name: "rate history",
			sql:  rateHistorySQL,
			oids: []uint32{pgtype.TextOID, pgtype.DateOID},
			args: []any{"30_year_fixed", date},
		},
		{
			name: "lock alert",
			sql:  lockAlertSQL,
			oids: []uint32{pgtype.Int8OID},
			args: []any{trig.AlertID},
		},
		{
			name: "recent trigger",
			sql:  recentTriggerExistsSQL,
			oids: []uint32{pgtype.Int8OID, pgtype.TimestamptzOID},
			args: []any{trig.AlertID, now.Add(-24 * time.Hour)},
		},
		{
			name: "insert trigger",
			sql:  insertTriggerSQL,
			oids: []uint32{pgtype.UUIDOID, pgtype.Int8OID, pgtype.TimestamptzOID, pgtype.TextOID, pgtype.NumericOID},
			args: insertTriggerArgs(trig),
		},
		{
			name: "last trigger",
			sql:  lastTriggerSQL,
			oids: []uint32{pgtype.Int8OID},
			args: []any{trig.AlertID},
		},
		{
			name: "list triggers",
			sql:  listTriggersSQL,
			oids: []uint32{pgtype.Int8OID},
			args: []any{trig.AlertID},
		},
		{
			name: "try advisory lock",
			sql:  tryAdvisoryLockSQL,
			oids: []uint32{pgtype.Int8OID},
			args: []any{int64(42)},
		},
		{
			name: "advisory unlock",
			sql:  advisoryUnlockSQL,
			oids: []uint32{pgtype.Int8OID},
			args: []any{int64(42)},
		},
		{
			name: "get mortgage",
			sql:  getMortgageSQL,
			oids: []uint32{pgtype.Int8OID},
			args: []any{int64(1)},
		},
		{
			name: "list eligible alerts",
			sql:  listEligibleAlertsSQL,
			oids: nil,
			args: nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Len(t, tc.args, len(tc.oids))
			assert.NoError(t, buildBind(tc.sql, tc.oids, tc.args))
		})
	}
}

func TestLockAlertParamIsBigint(t *testing.T) {
	// an untyped ::text parameter would be described as text, which an
	// int64 alert id cannot be encoded into
	assert.Contains(t, lockAlertSQL, "$1::bigint::text")
	assert.Error(t, buildBind(lockAlertSQL, []uint32{pgtype.TextOID}, []any{int64(7)}))
	assert.NoError(t, buildBind(lockAlertSQL, []uint32{pgtype.Int8OID}, []any{int64(7)}))
}

func TestUpsertRateArgsKeepsNullOptionals(t *testing.T) {
	args := upsertRateArgs(RateWrite{
		Date:     day("2026-10-19"),
		RateType: "15_year_fixed",
		Rate:     decimal.RequireFromString("0.0575"),
		Source:   "scraper",
	})
	require.Len(t, args, 6)
	assert.Equal(t, "0.0575", args[2])
	assert.Nil(t, args[3])
	assert.Nil(t, args[4])
}
