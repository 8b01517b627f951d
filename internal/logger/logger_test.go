package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

// parseEntry はバッファ内のJSONログ1行をパースする。
func parseEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("JSONログのパースに失敗: %v\nraw: %s", err, buf.String())
	}
	return entry
}

func TestSetup_EmitsJSONWithStandardFields(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf)

	l.Info("候補者を登録しました",
		slog.String("candidate_id", "c-456"),
		slog.Int("version", 1),
	)

	entry := parseEntry(t, &buf)
	if entry["msg"] != "候補者を登録しました" {
		t.Errorf("msg = %q, want %q", entry["msg"], "候補者を登録しました")
	}
	if entry["level"] != "INFO" {
		t.Errorf("level = %q, want %q", entry["level"], "INFO")
	}
	if _, ok := entry["time"]; !ok {
		t.Error("expected 'time' field in JSON log output")
	}
	if entry["candidate_id"] != "c-456" {
		t.Errorf("candidate_id = %q, want %q", entry["candidate_id"], "c-456")
	}
	if entry["version"] != float64(1) {
		t.Errorf("version = %v, want 1", entry["version"])
	}
}

func TestSetup_WarnLevelLabel(t *testing.T) {
	var buf bytes.Buffer
	Setup(&buf).Warn("招待の送付に失敗しました", slog.String("slot_id", "slot-1"))

	entry := parseEntry(t, &buf)
	if entry["level"] != "WARN" {
		t.Errorf("level = %q, want %q", entry["level"], "WARN")
	}
}

func TestSetup_LogLevelEnv(t *testing.T) {
	t.Run("debug指定でDebugが出力される", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "debug")
		var buf bytes.Buffer
		Setup(&buf).Debug("claimed assignments", slog.Int("count", 3))

		if buf.Len() == 0 {
			t.Fatal("expected debug output, got nothing")
		}
		entry := parseEntry(t, &buf)
		if entry["level"] != "DEBUG" {
			t.Errorf("level = %q, want %q", entry["level"], "DEBUG")
		}
	})

	t.Run("error指定でInfoが抑制される", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "error")
		var buf bytes.Buffer
		Setup(&buf).Info("suppressed")

		if buf.Len() != 0 {
			t.Errorf("expected no output at info level, got %s", buf.String())
		}
	})

	t.Run("解釈できない値はinfoにフォールバック", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "verbose")
		var buf bytes.Buffer
		Setup(&buf).Debug("should be suppressed")
		if buf.Len() != 0 {
			t.Errorf("expected debug suppressed at default level, got %s", buf.String())
		}

		Setup(&buf).Info("visible")
		if buf.Len() == 0 {
			t.Error("expected info output at default level")
		}
	})
}

func TestSetupDefault_SetsGlobalLogger(t *testing.T) {
	var buf bytes.Buffer
	SetupDefault(&buf)

	slog.Default().Info("評価基準セットを更新しました", slog.Int("criteria_count", 6))

	entry := parseEntry(t, &buf)
	if entry["msg"] != "評価基準セットを更新しました" {
		t.Errorf("msg = %q, want %q", entry["msg"], "評価基準セットを更新しました")
	}
	if entry["criteria_count"] != float64(6) {
		t.Errorf("criteria_count = %v, want 6", entry["criteria_count"])
	}
}
