// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package citation

import (
	"slices"

	"github.com/gomlx/ssgnn/internal/downloader"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
)

// KnownDatasets maps the dataset names that can be downloaded to the URL of their archive.
var KnownDatasets = map[string]string{
	"cora":     "https://linqs-data.soe.ucsc.edu/public/lbc/cora.tgz",
	"citeseer": "https://linqs-data.soe.ucsc.edu/public/lbc/citeseer.tgz",
}

// Download fetches and unpacks the dataset name into dataDir, if not there yet.
func Download(dataDir, name string) error {
	url, found := KnownDatasets[name]
	if !found {
		known := maps.Keys(KnownDatasets)
		slices.Sort(known)
		return errors.Wrapf(ErrUnknownDataset, "dataset %q not found in %q, and it is not one of the downloadable datasets %v",
			name, dataDir, known)
	}
	return downloader.DownloadAndUntarIfMissing(url, dataDir, name+".tgz", name)
}
