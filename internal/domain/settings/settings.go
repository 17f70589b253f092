// Package settings persists and normalizes the per-deployment settings
// document: the selected target group, the command->topic map used by
// CategorizationRouter, and the set of directly-authorized private chats.
package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// NoTopic is the map key representing the main group chat (no forum topic).
const NoTopic int64 = 0

// NoTopic stands for "main chat" (no topic); Telegram topic ids are always
// positive, so 0 is a safe sentinel for "none".

// Document is the full settings payload, mirroring the original JSON shape.
type Document struct {
	SelectedTargetGroup   int64                `json:"selected_target_group"`
	HasTargetGroup        bool                 `json:"-"`
	CommandMap            map[int64][]string   `json:"active_command_to_topic_map"`
	DirectlyAuthorizedPVs []int64              `json:"directly_authorized_pvs"`
}

func defaultDocument() Document {
	return Document{
		CommandMap:            make(map[int64][]string),
		DirectlyAuthorizedPVs: []int64{},
	}
}

// Store loads and saves a Document from a JSON file on disk, normalizing
// whatever shape it finds into the canonical one on every load.
type Store struct {
	mu   sync.Mutex
	path string
	log  *zap.Logger
}

// New builds a Store backed by path. log may be nil.
func New(path string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{path: path, log: log}
}

// Load reads the settings file, filling in defaults for anything missing
// or malformed. A missing or corrupt file yields the default document
// rather than an error, matching the "never block startup on a bad
// settings file" behavior of the original tool.
func (s *Store) Load() Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := defaultDocument()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("settings: read failed, using defaults", zap.Error(err))
		}
		return doc
	}

	var onDisk struct {
		SelectedTargetGroup json.RawMessage `json:"selected_target_group"`
		CommandMap          json.RawMessage `json:"active_command_to_topic_map"`
		DirectlyAuthorizedPVs []int64       `json:"directly_authorized_pvs"`
	}
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		s.log.Warn("settings: malformed JSON, using defaults", zap.Error(err))
		return doc
	}

	if len(onDisk.SelectedTargetGroup) > 0 && string(onDisk.SelectedTargetGroup) != "null" {
		var id int64
		if err := json.Unmarshal(onDisk.SelectedTargetGroup, &id); err == nil {
			doc.SelectedTargetGroup = id
			doc.HasTargetGroup = true
		}
	}

	doc.CommandMap = NormalizeCommandMap(onDisk.CommandMap)

	if onDisk.DirectlyAuthorizedPVs != nil {
		doc.DirectlyAuthorizedPVs = dedupeInt64(onDisk.DirectlyAuthorizedPVs)
	}

	s.log.Info("settings loaded",
		zap.Int("authorized_pv_count", len(doc.DirectlyAuthorizedPVs)),
		zap.Int("command_map_topics", len(doc.CommandMap)),
	)
	return doc
}

// Save writes doc to disk atomically (write to a temp file, then rename),
// creating the parent directory if needed.
func (s *Store) Save(doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	onDisk := struct {
		SelectedTargetGroup   *int64             `json:"selected_target_group"`
		CommandMap            map[string][]string `json:"active_command_to_topic_map"`
		DirectlyAuthorizedPVs []int64            `json:"directly_authorized_pvs"`
	}{
		CommandMap:            make(map[string][]string, len(doc.CommandMap)),
		DirectlyAuthorizedPVs: doc.DirectlyAuthorizedPVs,
	}
	if doc.HasTargetGroup {
		id := doc.SelectedTargetGroup
		onDisk.SelectedTargetGroup = &id
	}
	for topic, cmds := range doc.CommandMap {
		onDisk.CommandMap[topicKeyString(topic)] = cmds
	}

	data, err := json.MarshalIndent(onDisk, "", "    ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}

	s.log.Info("settings saved",
		zap.Int("authorized_pv_count", len(doc.DirectlyAuthorizedPVs)),
	)
	return nil
}

func topicKeyString(topic int64) string {
	if topic == NoTopic {
		return "None"
	}
	return strconv.FormatInt(topic, 10)
}

// NormalizeCommandMap accepts a command map in either the canonical
// topic->[]command shape or the legacy command->topic shape (both seen in
// settings files migrated from the original tool) and returns the
// canonical shape: topic id -> sorted, deduplicated, lowercased commands.
func NormalizeCommandMap(raw json.RawMessage) map[int64][]string {
	normalized := make(map[int64][]string)
	if len(raw) == 0 {
		return normalized
	}

	var asTopicToCommands map[string][]string
	if err := json.Unmarshal(raw, &asTopicToCommands); err == nil {
		for topicKey, cmds := range asTopicToCommands {
			topic, ok := parseTopicKey(topicKey)
			if !ok {
				continue
			}
			cleaned := cleanCommandList(cmds)
			if len(cleaned) > 0 {
				normalized[topic] = cleaned
			}
		}
		return normalized
	}

	var asCommandToTopic map[string]*int64
	if err := json.Unmarshal(raw, &asCommandToTopic); err == nil {
		for command, topicPtr := range asCommandToTopic {
			cmd := strings.ToLower(strings.TrimSpace(command))
			if cmd == "" {
				continue
			}
			var topic int64
			if topicPtr != nil {
				topic = *topicPtr
			}
			if !containsString(normalized[topic], cmd) {
				normalized[topic] = append(normalized[topic], cmd)
			}
		}
		for topic := range normalized {
			sort.Strings(normalized[topic])
		}
	}
	return normalized
}

func parseTopicKey(key string) (int64, bool) {
	stripped := strings.TrimSpace(key)
	switch strings.ToLower(stripped) {
	case "none", "null", "", "main", "main chat", "main group chat":
		return NoTopic, true
	}
	id, err := strconv.ParseInt(stripped, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func cleanCommandList(cmds []string) []string {
	seen := make(map[string]struct{}, len(cmds))
	out := make([]string, 0, len(cmds))
	for _, c := range cmds {
		cleaned := strings.ToLower(strings.TrimSpace(c))
		if cleaned == "" {
			continue
		}
		if _, dup := seen[cleaned]; dup {
			continue
		}
		seen[cleaned] = struct{}{}
		out = append(out, cleaned)
	}
	sort.Strings(out)
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func dedupeInt64(in []int64) []int64 {
	seen := make(map[int64]struct{}, len(in))
	out := make([]int64, 0, len(in))
	for _, v := range in {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
