package database

import (
	"path/filepath"
	"testing"
)

// setupSQLite はテスト用のSQLiteデータベースURLと接続を返す。
func setupSQLite(t *testing.T) (*DB, string) {
	t.Helper()

	dbURL := "sqlite://" + filepath.Join(t.TempDir(), "nm.db")
	db, err := Open(dbURL)
	if err != nil {
		t.Fatalf("データベースへの接続に失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, dbURL
}

func TestRunMigrations_SQLite_CreatesTables(t *testing.T) {
	db, dbURL := setupSQLite(t)

	if err := RunMigrations(dbURL); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}

	expectedTables := []string{
		"node_infos",
		"node_hash_by_name",
		"network_parameters",
		"certificate_requests",
	}
	for _, table := range expectedTables {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Errorf("テーブル %s が存在しない: %v", table, err)
		}
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	_, dbURL := setupSQLite(t)

	if err := RunMigrations(dbURL); err != nil {
		t.Fatalf("1回目のマイグレーション実行に失敗: %v", err)
	}
	// 2回目はErrNoChangeとなるがエラーとしては扱わない
	if err := RunMigrations(dbURL); err != nil {
		t.Fatalf("2回目のマイグレーション実行に失敗: %v", err)
	}
}

func TestRunMigrations_DownRemovesTables(t *testing.T) {
	db, dbURL := setupSQLite(t)

	m, err := NewMigrator(dbURL)
	if err != nil {
		t.Fatalf("NewMigrator returned error: %v", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		t.Fatalf("Up returned error: %v", err)
	}
	if err := m.Down(); err != nil {
		t.Fatalf("Down returned error: %v", err)
	}

	var count int
	if err := db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'node_infos'`).Scan(&count); err != nil {
		t.Fatalf("sqlite_master の参照に失敗: %v", err)
	}
	if count != 0 {
		t.Errorf("node_infos テーブルが残存: count=%d", count)
	}
}

func TestRunMigrations_MemoryIsNoop(t *testing.T) {
	if err := RunMigrations("memory://"); err != nil {
		t.Fatalf("expected no error for memory driver, got %v", err)
	}
	if _, err := NewMigrator("memory://"); err == nil {
		t.Error("expected NewMigrator error for memory driver")
	}
}

func TestNodeHashByName_CascadesOnDelete(t *testing.T) {
	db, dbURL := setupSQLite(t)

	if err := RunMigrations(dbURL); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}

	if _, err := db.Exec(`INSERT INTO node_infos (hash, signed_bytes) VALUES ('H1', x'00')`); err != nil {
		t.Fatalf("ノード情報挿入に失敗: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO node_hash_by_name (legal_name, hash) VALUES ('O=A, L=London, C=GB', 'H1')`); err != nil {
		t.Fatalf("名前対応挿入に失敗: %v", err)
	}
	if _, err := db.Exec(`DELETE FROM node_infos WHERE hash = 'H1'`); err != nil {
		t.Fatalf("ノード情報削除に失敗: %v", err)
	}

	var count int
	if err := db.QueryRow(`SELECT count(*) FROM node_hash_by_name`).Scan(&count); err != nil {
		t.Fatalf("カウント取得に失敗: %v", err)
	}
	if count != 0 {
		t.Errorf("node_hash_by_name にレコードが残存: count=%d", count)
	}
}
