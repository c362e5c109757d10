package svn

import (
	"encoding/xml"
	"fmt"
	"time"
)

// Info is the parsed result of `svn info --xml`.
type Info struct {
	URL      string
	RootURL  string
	UUID     string
	Revision int64
}

// LogEntry is one revision from `svn log --xml --verbose`.
type LogEntry struct {
	Revision     int64
	Author       string
	Date         time.Time
	Message      string
	ChangedPaths []ChangedPath
}

// ChangedPath is one <path> element of a log entry.
type ChangedPath struct {
	// Action is one of A, M, D, R as reported by SVN.
	Action string
	Path   string
	// CopyFromPath/CopyFromRev are set for copies and renames.
	CopyFromPath string
	CopyFromRev  int64
}

// FileStatus is one working-copy entry from `svn status --xml`.
type FileStatus struct {
	Path string
	// Kind is the single-character status: ? ! M A D C R.
	Kind byte
}

// xml wire structs; unknown attributes are ignored by encoding/xml, but a
// document that does not decode into this shape is a parse error.

type xmlInfo struct {
	XMLName xml.Name     `xml:"info"`
	Entry   xmlInfoEntry `xml:"entry"`
}

type xmlInfoEntry struct {
	Revision   int64  `xml:"revision,attr"`
	URL        string `xml:"url"`
	Repository struct {
		Root string `xml:"root"`
		UUID string `xml:"uuid"`
	} `xml:"repository"`
	Commit struct {
		Revision int64 `xml:"revision,attr"`
	} `xml:"commit"`
}

type xmlLog struct {
	XMLName xml.Name      `xml:"log"`
	Entries []xmlLogEntry `xml:"logentry"`
}

type xmlLogEntry struct {
	Revision int64  `xml:"revision,attr"`
	Author   string `xml:"author"`
	Date     string `xml:"date"`
	Message  string `xml:"msg"`
	Paths    struct {
		Paths []xmlLogPath `xml:"path"`
	} `xml:"paths"`
}

type xmlLogPath struct {
	Action       string `xml:"action,attr"`
	CopyFromPath string `xml:"copyfrom-path,attr"`
	CopyFromRev  int64  `xml:"copyfrom-rev,attr"`
	Value        string `xml:",chardata"`
}

type xmlStatus struct {
	XMLName xml.Name `xml:"status"`
	Targets []struct {
		Entries []xmlStatusEntry `xml:"entry"`
	} `xml:"target"`
}

type xmlStatusEntry struct {
	Path     string `xml:"path,attr"`
	WcStatus struct {
		Item string `xml:"item,attr"`
	} `xml:"wc-status"`
}

// ParseInfo parses `svn info --xml` output.
func ParseInfo(data []byte) (Info, error) {
	var doc xmlInfo
	if err := xml.Unmarshal(data, &doc); err != nil {
		return Info{}, fmt.Errorf("svn info XML parse error: %w", err)
	}
	rev := doc.Entry.Revision
	if rev == 0 {
		rev = doc.Entry.Commit.Revision
	}
	if doc.Entry.URL == "" || rev == 0 {
		return Info{}, fmt.Errorf("svn info XML parse error: missing url or revision")
	}
	return Info{
		URL:      doc.Entry.URL,
		RootURL:  doc.Entry.Repository.Root,
		UUID:     doc.Entry.Repository.UUID,
		Revision: rev,
	}, nil
}

// ParseLog parses `svn log --xml --verbose` output. Entries are returned in
// document order; timestamps are parsed as RFC 3339 UTC.
func ParseLog(data []byte) ([]LogEntry, error) {
	var doc xmlLog
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("svn log XML parse error: %w", err)
	}

	entries := make([]LogEntry, 0, len(doc.Entries))
	for _, e := range doc.Entries {
		if e.Revision == 0 {
			return nil, fmt.Errorf("svn log XML parse error: logentry without revision")
		}
		var date time.Time
		if e.Date != "" {
			var err error
			date, err = time.Parse(time.RFC3339, e.Date)
			if err != nil {
				return nil, fmt.Errorf("svn log XML parse error: bad date %q: %w", e.Date, err)
			}
		}
		entry := LogEntry{
			Revision: e.Revision,
			Author:   e.Author,
			Date:     date.UTC(),
			Message:  e.Message,
		}
		for _, p := range e.Paths.Paths {
			entry.ChangedPaths = append(entry.ChangedPaths, ChangedPath{
				Action:       p.Action,
				Path:         p.Value,
				CopyFromPath: p.CopyFromPath,
				CopyFromRev:  p.CopyFromRev,
			})
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// statusItems maps `svn status --xml` wc-status items onto the classic
// single-character codes the engine acts on.
var statusItems = map[string]byte{
	"unversioned": '?',
	"missing":     '!',
	"modified":    'M',
	"added":       'A',
	"deleted":     'D',
	"conflicted":  'C',
	"replaced":    'R',
}

// ParseStatus parses `svn status --xml` output. Entries whose status is
// "normal" or unrecognised are dropped.
func ParseStatus(data []byte) ([]FileStatus, error) {
	var doc xmlStatus
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("svn status XML parse error: %w", err)
	}

	var statuses []FileStatus
	for _, target := range doc.Targets {
		for _, e := range target.Entries {
			kind, ok := statusItems[e.WcStatus.Item]
			if !ok {
				continue
			}
			if e.Path == "" {
				return nil, fmt.Errorf("svn status XML parse error: entry without path")
			}
			statuses = append(statuses, FileStatus{Path: e.Path, Kind: kind})
		}
	}
	return statuses, nil
}
