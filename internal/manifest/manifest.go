// Package manifest fetches and decodes the JSON document listing every
// instance of a study.
package manifest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/veranemoloko/study-downloader/internal/domain"
	errpkg "github.com/veranemoloko/study-downloader/internal/errors"
)

const (
	instanceScheme = "dicomweb:"
	defaultLabel   = "X"
)

// Manifest is the decoded study list.
type Manifest struct {
	Studies []Study `json:"studies"`
}

// Study is one study of the manifest. The first study names the download.
type Study struct {
	PatientID        string   `json:"PatientID"`
	PatientName      string   `json:"PatientName"`
	StudyInstanceUID string   `json:"StudyInstanceUID"`
	Series           []Series `json:"series"`
}

// Series groups the instances of one acquisition.
type Series struct {
	Instances []Instance `json:"instances"`
}

// Instance is one downloadable file. URL may carry a "dicomweb:" prefix.
type Instance struct {
	URL string `json:"url"`
}

// Parse decodes a manifest body. A document without a "studies" key is rejected.
func Parse(body []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", errpkg.ErrParse, err)
	}
	if m.Studies == nil {
		return nil, fmt.Errorf("%w: missing studies", errpkg.ErrParse)
	}
	return &m, nil
}

// Entries flattens every instance of every series of every study.
func (m *Manifest) Entries() []domain.ManifestEntry {
	var entries []domain.ManifestEntry
	for _, study := range m.Studies {
		for _, series := range study.Series {
			for _, instance := range series.Instances {
				entries = append(entries, domain.ManifestEntry{
					OwnerID:    study.PatientID,
					OwnerLabel: study.PatientName,
					SourceURL:  strings.TrimPrefix(instance.URL, instanceScheme),
				})
			}
		}
	}
	return entries
}

// StudyID returns the first study's instance UID, or "" if there is none.
func (m *Manifest) StudyID() string {
	if len(m.Studies) == 0 {
		return ""
	}
	return strings.TrimSpace(m.Studies[0].StudyInstanceUID)
}

// Label returns the first study's patient name, or "X" if it is missing.
func (m *Manifest) Label() string {
	if len(m.Studies) == 0 {
		return defaultLabel
	}
	if name := strings.TrimSpace(m.Studies[0].PatientName); name != "" {
		return name
	}
	return defaultLabel
}
