package ledger

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendWritesOneLinePerRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paper_ledger.jsonl")
	l, err := Open(path)
	require.NoError(t, err)

	price := 150.25
	intent := NewIntent("AAPL.US", "Buy", 10, "LO", &price, nil, nil, "paper|STRUCT|score=88", nil)
	require.NoError(t, l.Append(intent, "PENDING", nil, "DRYRUN-AAPL.US-Buy-123"))
	require.NoError(t, l.Append(intent, "FILLED", &price, "DRYRUN-AAPL.US-Buy-123"))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.Len(t, lines, 2)

	var first, second Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "PENDING", first.Status)
	assert.Equal(t, "FILLED", second.Status)
	assert.Equal(t, "AAPL.US", second.Symbol)
}

func TestOpenCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "paper_ledger.jsonl")
	_, err := Open(path)
	require.NoError(t, err)
	_, statErr := os.Stat(filepath.Dir(path))
	assert.NoError(t, statErr)
}
