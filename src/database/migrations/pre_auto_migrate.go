package migrations

import (
	"fmt"

	"gorm.io/gorm"
)

type columnRename struct {
	table string
	from  string
	to    string
}

// legacyTableRenames maps tables of the first schema generation to the current names.
var legacyTableRenames = map[string]string{
	"strategy_preferences": "preferences",
}

// legacyColumnRenames lists columns whose names were tied to a single exchange
// or to the first schema generation.
var legacyColumnRenames = []columnRename{
	{table: "preferences", from: "user_ref", to: "user_scope"},
	{table: "executions", from: "signal_sent_time", to: "signal_sent_at"},
	{table: "executions", from: "received_time", to: "received_at"},
	{table: "executions", from: "processed_time", to: "processed_at"},
	{table: "executions", from: "sent_to_binance_time", to: "sent_to_exchange_at"},
	{table: "executions", from: "binance_executed_time", to: "exchange_executed_at"},
	{table: "executions", from: "order_id", to: "exchange_order_id"},
	{table: "orders", from: "binance_order_id", to: "exchange_order_id"},
	{table: "orders", from: "cumulative_quote_quantity", to: "cum_quote"},
	{table: "account_snapshots", from: "trigger_type", to: "trigger"},
	{table: "account_snapshots", from: "total_unrealized_profit", to: "unrealized_profit"},
	{table: "account_snapshots", from: "total_margin_balance", to: "margin_balance"},
}

// PrepareLegacyColumns renames tables and columns left by older deployments so
// AutoMigrate extends them in place instead of creating empty duplicates.
func PrepareLegacyColumns(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	m := db.Migrator()

	for from, to := range legacyTableRenames {
		if !m.HasTable(from) || m.HasTable(to) {
			continue
		}
		if err := m.RenameTable(from, to); err != nil {
			return fmt.Errorf("rename table %s to %s: %w", from, to, err)
		}
	}

	for _, rename := range legacyColumnRenames {
		if !m.HasTable(rename.table) {
			continue
		}
		if !m.HasColumn(rename.table, rename.from) || m.HasColumn(rename.table, rename.to) {
			continue
		}
		if err := m.RenameColumn(rename.table, rename.from, rename.to); err != nil {
			return fmt.Errorf("rename %s.%s to %s: %w", rename.table, rename.from, rename.to, err)
		}
	}

	return nil
}
