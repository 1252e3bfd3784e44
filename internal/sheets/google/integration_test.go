//go:build integration

package google

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

// Integration tests require real Google Sheets credentials
// Run with: go test -tags=integration ./internal/sheets/google

func TestIntegration_MirrorFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	spreadsheetID := os.Getenv("GOOGLE_SPREADSHEET_ID")
	if spreadsheetID == "" {
		t.Skip("GOOGLE_SPREADSHEET_ID not set, skipping integration test")
	}
	if os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON") == "" &&
		os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE") == "" &&
		os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") == "" {
		t.Skip("Service Account credentials not configured, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	client, err := New(ctx, spreadsheetID, os.Getenv("GOOGLE_SHEET_NAME"))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	tx := sampleTx(fmt.Sprintf("integration-%d", time.Now().UnixNano()), "1.23")

	ref, err := client.Upsert(ctx, tx)
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	t.Logf("Mirrored transaction to %s", ref)

	tx.Description = "integration update"
	again, err := client.Upsert(ctx, tx)
	if err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}
	if again != ref {
		t.Errorf("update went to %s, want %s", again, ref)
	}

	if err := client.Remove(ctx, tx.ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
}
