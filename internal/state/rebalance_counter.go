/*

This file manages the persistent global rebalance counter. The counter is
stored in the database to ensure continuity across restarts.

*/

package state

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// GetCurrentRebalanceNumber retrieves the current rebalance number from the database
func GetCurrentRebalanceNumber() (int, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	query := `SELECT current_rebalance FROM rebalance_counter WHERE id = 1;`

	var current int
	if err := DB.QueryRow(query).Scan(&current); err != nil {
		return 0, fmt.Errorf("failed to read rebalance counter: %w", err)
	}
	return current, nil
}

// IncrementRebalanceNumber atomically increments and returns the rebalance number
func IncrementRebalanceNumber() (int, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	query := `
		UPDATE rebalance_counter
		SET current_rebalance = current_rebalance + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = 1
		RETURNING current_rebalance;
	`

	var current int
	if err := DB.QueryRow(query).Scan(&current); err != nil {
		return 0, fmt.Errorf("failed to increment rebalance counter: %w", err)
	}

	log.Debug().Int("rebalance_number", current).Msg("Rebalance counter incremented")
	return current, nil
}
