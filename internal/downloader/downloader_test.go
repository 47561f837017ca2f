// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package downloader

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownload(t *testing.T) {
	ShowProgressBar = false
	const body = "p1\tp2\n"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cora.cites" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	filePath := filepath.Join(t.TempDir(), "sub", "cora.cites")
	size, err := Download(server.URL+"/cora.cites", filePath)
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), size)
	contents, err := os.ReadFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, body, string(contents))
	_, err = os.Stat(filePath + ".part")
	assert.True(t, os.IsNotExist(err))

	_, err = Download(server.URL+"/missing", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}
