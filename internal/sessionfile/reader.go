// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package sessionfile

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// filenamePattern matches `<ISO8601-ish>_<id>.jsonl`, where id is usually a
// uuid, e.g.
// 2025-02-04T12-30-45-123Z_550e8400-e29b-41d4-a716-446655440000.jsonl
var filenamePattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}(?:-\d{3})?Z)_([0-9A-Za-z-]+)\.jsonl$`)

// rawLine is the generic decode shape used while scanning a file the first
// time; Entry-specific fields are decoded on demand from the raw bytes.
type rawLine struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	ParentID  string          `json:"parentId"`
	Timestamp time.Time       `json:"timestamp"`
	raw       json.RawMessage
}

// arena is the id->entry index built by a single scan of a session file, per
// the spec's "arena + index populated during the first scan" design note.
type arena struct {
	header   *Header
	byID     map[string]rawLine
	order    []string // insertion order, for leaf selection fallback
	allLines []rawLine
}

// scanFile reads every line of path, tolerating malformed JSON by skipping
// it rather than failing the whole read.
func scanFile(path string) (*arena, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &Error{Kind: ErrKindNotFound, Path: path, Err: err}
		}
		return nil, &Error{Kind: ErrKindIO, Path: path, Err: err}
	}
	defer f.Close()

	a := &arena{byID: make(map[string]rawLine)}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)

	first := true
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytesTrim(line)) == 0 {
			continue
		}

		if first {
			first = false
			var hdr Header
			if err := json.Unmarshal(line, &hdr); err == nil && hdr.Type == "session" {
				cp := hdr
				a.header = &cp
				continue
			}
			// Not a header line (no header present); fall through and treat
			// it as a regular entry.
		}

		var rl rawLine
		if err := json.Unmarshal(line, &rl); err != nil {
			continue // malformed line: skip, not fatal
		}
		rl.raw = append(json.RawMessage(nil), line...)
		if rl.ID == "" {
			continue
		}
		a.byID[rl.ID] = rl
		a.order = append(a.order, rl.ID)
		a.allLines = append(a.allLines, rl)
	}
	if err := scanner.Err(); err != nil {
		return nil, &Error{Kind: ErrKindIO, Path: path, Err: err}
	}

	if a.header == nil {
		a.header = headerFromFilename(path)
	}

	return a, nil
}

func bytesTrim(b []byte) []byte {
	return []byte(strings.TrimSpace(string(b)))
}

// headerFromFilename synthesizes header fields from the filename when the
// file has no header line of its own.
func headerFromFilename(path string) *Header {
	base := filepath.Base(path)
	m := filenamePattern.FindStringSubmatch(base)
	hdr := &Header{Type: "session"}
	if m != nil {
		ts := m[1]
		if len(ts) == len("2006-01-02T15-04-05-000Z") {
			// Restore the '.' before the milliseconds so time.Parse sees them.
			ts = ts[:19] + "." + ts[20:]
		}
		if t, err := time.Parse("2006-01-02T15-04-05.000Z", ts); err == nil {
			hdr.Timestamp = t
		} else if t, err := time.Parse("2006-01-02T15-04-05Z", m[1]); err == nil {
			hdr.Timestamp = t
		}
		hdr.ID = m[2]
	}
	return hdr
}

// leaf finds the last non-label entry with an id, in file order, as the
// default leaf for linearization.
func (a *arena) leaf() (rawLine, bool) {
	for i := len(a.allLines) - 1; i >= 0; i-- {
		if a.allLines[i].Type != EntryLabel {
			return a.allLines[i], true
		}
	}
	return rawLine{}, false
}

// walkToRoot walks parentId pointers from leaf to the root, guarding against
// cycles with a visited set (cycles should not occur, but the data is
// untrusted append-only input from an external process).
func (a *arena) walkToRoot(leaf rawLine) []rawLine {
	var path []rawLine
	visited := make(map[string]bool)
	cur := leaf
	for {
		if visited[cur.ID] {
			break
		}
		visited[cur.ID] = true
		path = append(path, cur)
		if cur.ParentID == "" {
			break
		}
		next, ok := a.byID[cur.ParentID]
		if !ok {
			break
		}
		cur = next
	}
	// reverse: path is leaf->root, we want root->leaf
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// ReadSession loads a session file and materializes its linear transcript.
func ReadSession(path string) (*Session, error) {
	a, err := scanFile(path)
	if err != nil {
		return nil, err
	}

	sess := &Session{Header: *a.header}

	leaf, ok := a.leaf()
	if !ok {
		return sess, nil // header-only file
	}

	path2root := a.walkToRoot(leaf)
	path2root = truncateAtLastCompaction(path2root)

	var stats Stats
	var forkPoints []ForkPoint
	messages := make([]ParsedMessage, 0, len(path2root))

	for _, entry := range path2root {
		switch entry.Type {
		case EntryMessage, EntryCustomMessage:
			var me messageEntry
			if err := json.Unmarshal(entry.raw, &me); err != nil {
				continue
			}
			role := me.Role
			if entry.Type == EntryCustomMessage {
				role = "custom"
			}
			text := firstTextFragment(me.Content)
			messages = append(messages, ParsedMessage{
				EntryID:   entry.ID,
				Role:      role,
				Text:      text,
				Content:   me.Content,
				Timestamp: entry.Timestamp,
			})
			if role == "user" && text != "" {
				forkPoints = append(forkPoints, ForkPoint{EntryID: entry.ID, Text: text})
			}
			if role == "assistant" && len(me.Usage) > 0 {
				normalizeUsage(me.Usage, &stats)
			}
		case EntryCompaction:
			var ce compactionEntry
			if err := json.Unmarshal(entry.raw, &ce); err != nil {
				continue
			}
			messages = append(messages, ParsedMessage{
				EntryID:   entry.ID,
				Role:      "summary",
				Text:      ce.Summary,
				Timestamp: entry.Timestamp,
				Synthetic: true,
			})
		case EntryBranchSummary, EntrySessionInfo:
			// Carried on the path for bookkeeping but not rendered as a
			// message; the spec defines the visible transcript in terms of
			// message/custom_message/compaction entries only.
		}
	}

	stats.MessageCount = len(messages)

	sess.Messages = messages
	sess.ForkPoints = forkPoints
	sess.Stats = stats
	return sess, nil
}

// isForkPoint reports whether e is a valid fork target: a `message` entry
// (not `custom_message`, `compaction`, `branch_summary`, or `session_info`)
// with role "user".
func isForkPoint(e rawLine) bool {
	if e.Type != EntryMessage {
		return false
	}
	var me messageEntry
	if json.Unmarshal(e.raw, &me) != nil {
		return false
	}
	return me.Role == "user"
}

// truncateAtLastCompaction implements the spec's compaction rule: the last
// compaction entry before the leaf truncates the visible transcript to a
// synthesized summary followed by entries from firstKeptEntryId onward (or
// the entry immediately after the compaction if unspecified).
func truncateAtLastCompaction(path []rawLine) []rawLine {
	lastCompactionIdx := -1
	for i, e := range path {
		if e.Type == EntryCompaction {
			lastCompactionIdx = i
		}
	}
	if lastCompactionIdx == -1 {
		return path
	}

	compaction := path[lastCompactionIdx]
	var ce compactionEntry
	json.Unmarshal(compaction.raw, &ce)

	tail := path[lastCompactionIdx+1:]
	if ce.FirstKeptEntryID != "" {
		for i, e := range tail {
			if e.ID == ce.FirstKeptEntryID {
				tail = tail[i:]
				break
			}
		}
	}

	out := make([]rawLine, 0, len(tail)+1)
	out = append(out, compaction)
	out = append(out, tail...)
	return out
}

// firstTextFragment extracts the first non-empty text fragment from a
// message's content, which may be a bare string or a content-block array.
func firstTextFragment(content json.RawMessage) string {
	if len(content) == 0 {
		return ""
	}
	var asString string
	if json.Unmarshal(content, &asString) == nil {
		return strings.TrimSpace(asString)
	}
	var blocks []ContentBlock
	if json.Unmarshal(content, &blocks) == nil {
		for _, b := range blocks {
			if b.Type == "text" && strings.TrimSpace(b.Text) != "" {
				return strings.TrimSpace(b.Text)
			}
		}
	}
	return ""
}

// FindSessionFileByID matches a session file whose header id equals id
// exactly, falling back to a filename substring match, under root.
func FindSessionFileByID(root, id string) (string, error) {
	var found string
	err := walkSessionFiles(root, func(path string) error {
		if found != "" {
			return nil
		}
		a, err := scanFile(path)
		if err != nil {
			return nil // skip unreadable files
		}
		if a.header != nil && a.header.ID == id {
			found = path
			return nil
		}
		if strings.Contains(filepath.Base(path), id) {
			found = path
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return found, nil
}

// GetSessionInfo produces the lightweight summary, streaming rather than
// fully materializing the linear transcript.
func GetSessionInfo(path string) (*Info, error) {
	a, err := scanFile(path)
	if err != nil {
		return nil, err
	}
	info := &Info{
		Path:      path,
		Timestamp: a.header.Timestamp,
		Cwd:       a.header.Cwd,
		ID:        a.header.ID,
	}
	if a.header.ParentSession != "" {
		info.ParentSession = a.header.ParentSession
	}
	info.MessageCount = 0
	var lastText string
	for _, e := range a.allLines {
		if e.Type != EntryMessage && e.Type != EntryCustomMessage {
			continue
		}
		var me messageEntry
		if json.Unmarshal(e.raw, &me) != nil {
			continue
		}
		info.MessageCount++
		text := firstTextFragment(me.Content)
		if text != "" {
			lastText = text
			if info.FirstPrompt == "" && me.Role == "user" {
				info.FirstPrompt = text
			}
		}
	}
	info.LastMessage = lastText
	return info, nil
}

// ListOptions configures ListSessions.
type ListOptions struct {
	Cwd    string
	Offset int
	Limit  int
}

// ListResult is the page returned by ListSessions.
type ListResult struct {
	Total    int
	Sessions []Summary
}

var skipDirs = map[string]bool{
	"subagent-artifacts": true,
	".git":               true,
	"node_modules":       true,
}

// ListSessions scans root recursively for session files, filters by cwd if
// given, and returns a deterministic page sorted descending by filename
// timestamp.
func ListSessions(root string, opts ListOptions) (*ListResult, error) {
	var candidates []string
	err := walkSessionFiles(root, func(path string) error {
		candidates = append(candidates, path)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool {
		return filepath.Base(candidates[i]) > filepath.Base(candidates[j])
	})

	var infos []Info
	for _, path := range candidates {
		info, err := GetSessionInfo(path)
		if err != nil {
			continue
		}
		if opts.Cwd != "" && info.Cwd != opts.Cwd {
			continue
		}
		infos = append(infos, *info)
	}

	total := len(infos)
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	if offset > total {
		offset = total
	}

	page := make([]Summary, 0, end-offset)
	for _, info := range infos[offset:end] {
		page = append(page, Summary{Info: info})
	}

	return &ListResult{Total: total, Sessions: page}, nil
}

func walkSessionFiles(root string, fn func(path string) error) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			if skipDirs[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !filenamePattern.MatchString(filepath.Base(path)) {
			return nil
		}
		return fn(path)
	})
}

// ForkSession creates a new session file whose entries are the source's
// linear path up to and including entryID, with a header carrying
// parentSession = source id.
func ForkSession(sourcePath, sessionsRoot, entryID string) (string, error) {
	a, err := scanFile(sourcePath)
	if err != nil {
		return "", err
	}
	leaf, ok := a.leaf()
	if !ok {
		return "", &Error{Kind: ErrKindParse, Path: sourcePath, Err: fmt.Errorf("no entries to fork from")}
	}
	fullPath := a.walkToRoot(leaf)

	if entryID == "" {
		// Use the last fork point (last user-role message on the path).
		for i := len(fullPath) - 1; i >= 0; i-- {
			if isForkPoint(fullPath[i]) {
				entryID = fullPath[i].ID
				break
			}
		}
		if entryID == "" {
			return "", &Error{Kind: ErrKindParse, Path: sourcePath, Err: fmt.Errorf("no fork point available")}
		}
	}

	cutIdx := -1
	for i, e := range fullPath {
		if e.ID != entryID {
			continue
		}
		if !isForkPoint(e) {
			return "", &Error{Kind: ErrKindParse, Path: sourcePath, Err: fmt.Errorf("entryId %q is not a fork point (not a user-role message)", entryID)}
		}
		cutIdx = i
		break
	}
	if cutIdx == -1 {
		return "", &Error{Kind: ErrKindParse, Path: sourcePath, Err: fmt.Errorf("entryId %q not found on source path", entryID)}
	}

	newID := newSessionID()
	now := time.Now().UTC()
	newHeader := Header{
		Type:          "session",
		ID:            newID,
		Version:       a.header.Version,
		Timestamp:     now,
		Cwd:           a.header.Cwd,
		ParentSession: a.header.ID,
	}

	newPath := filepath.Join(sessionsRoot, sessionFilename(now, newID))
	if err := os.MkdirAll(filepath.Dir(newPath), 0755); err != nil {
		return "", &Error{Kind: ErrKindIO, Path: newPath, Err: err}
	}

	tmpPath := newPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", &Error{Kind: ErrKindIO, Path: newPath, Err: err}
	}
	enc := json.NewEncoder(f)
	if err := enc.Encode(newHeader); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", &Error{Kind: ErrKindIO, Path: newPath, Err: err}
	}
	for _, e := range fullPath[:cutIdx+1] {
		if _, err := f.Write(append(append([]byte(nil), e.raw...), '\n')); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return "", &Error{Kind: ErrKindIO, Path: newPath, Err: err}
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", &Error{Kind: ErrKindIO, Path: newPath, Err: err}
	}
	if err := os.Rename(tmpPath, newPath); err != nil {
		os.Remove(tmpPath)
		return "", &Error{Kind: ErrKindIO, Path: newPath, Err: err}
	}
	return newPath, nil
}

// NewSessionFile writes a fresh header-only session file under
// <sessionsRoot>/<slashified-cwd>/<timestamp>_<id>.jsonl.
func NewSessionFile(sessionsRoot, cwd string) (string, string, error) {
	id := newSessionID()
	now := time.Now().UTC()
	hdr := Header{Type: "session", ID: id, Timestamp: now, Cwd: cwd}

	dir := filepath.Join(sessionsRoot, slashify(cwd))
	path := filepath.Join(dir, sessionFilename(now, id))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", "", &Error{Kind: ErrKindIO, Path: path, Err: err}
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", "", &Error{Kind: ErrKindIO, Path: path, Err: err}
	}
	if err := json.NewEncoder(f).Encode(hdr); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", "", &Error{Kind: ErrKindIO, Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", "", &Error{Kind: ErrKindIO, Path: path, Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", "", &Error{Kind: ErrKindIO, Path: path, Err: err}
	}
	return path, id, nil
}

func sessionFilename(t time.Time, id string) string {
	// Go layouts only accept fractional seconds after '.', so format with one
	// and replace it with '-' to match filenamePattern.
	ts := strings.Replace(t.Format("2006-01-02T15-04-05.000Z"), ".", "-", 1)
	return ts + "_" + id + ".jsonl"
}

func slashify(cwd string) string {
	cwd = strings.TrimPrefix(cwd, "/")
	return strings.ReplaceAll(cwd, "/", "-")
}
