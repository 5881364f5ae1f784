package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintable/pkg/config"
	"fintable/pkg/models"
)

const twoPages = `{"pages": [
  {"number": 1, "title": "合并资产负债表", "rows": [["项目", "附注", "期末余额", "上年年末余额"], ["货币资金", "七、1", "1,000.00", "900.00"]]},
  {"number": 2, "title": "合并利润表", "rows": [["项目", "本期发生额", "上期发生额"], ["营业收入", "500.00", "400.00"]]}
]}`

func TestLoadJobs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, os.WriteFile(path, []byte(twoPages), 0o644))

	tests := []struct {
		name     string
		kind     string
		perPage  bool
		wantJobs []string
		wantKind models.StatementKind
		wantErr  bool
	}{
		{name: "whole file", wantJobs: []string{"report.json"}, wantKind: models.KindUnknown},
		{name: "per page", perPage: true, wantJobs: []string{"report.json#合并资产负债表", "report.json#合并利润表"}, wantKind: models.KindUnknown},
		{name: "explicit kind", kind: "bs", wantJobs: []string{"report.json"}, wantKind: models.KindBalanceSheet},
		{name: "bad kind", kind: "ledger", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parseKind, parsePerPage = tt.kind, tt.perPage
			defer func() { parseKind, parsePerPage = "", false }()

			jobs, err := loadJobs([]string{path})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, jobs, len(tt.wantJobs))
			for i, j := range jobs {
				assert.Equal(t, tt.wantJobs[i], j.Name)
				assert.Equal(t, tt.wantKind, j.Kind)
			}
		})
	}
}

func TestOpenSinks(t *testing.T) {
	cfg = config.Default()
	defer func() { cfg = config.Config{} }()

	cfg.LLMSettings.DecisionStore = "none"
	sinks, closeFn, err := openSinks(context.Background())
	require.NoError(t, err)
	closeFn()
	assert.Empty(t, sinks)

	cfg.LLMSettings.DecisionStore = "jsonl"
	cfg.LLMSettings.DecisionLog = filepath.Join(t.TempDir(), "logs", "decisions.jsonl")
	sinks, closeFn, err = openSinks(context.Background())
	require.NoError(t, err)
	defer closeFn()
	assert.Len(t, sinks, 1)
	assert.FileExists(t, cfg.LLMSettings.DecisionLog)
}
