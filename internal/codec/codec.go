package codec

import (
	"bufio"
	"bytes"
	"errors"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/any-hub/gemsync/internal/spec"
)

// Codec 将索引与单条记录序列化为字节，调用方只依赖往返语义，不关心具体格式。
type Codec interface {
	EncodeIndex(idx *spec.Index) ([]byte, error)
	DecodeIndex(data []byte) (*spec.Index, error)
	EncodeRecord(rec spec.Record) ([]byte, error)
	DecodeRecord(data []byte) (spec.Record, error)
}

// YAML 使用 gopkg.in/yaml.v3 编码记录，索引编码为记录序列。
type YAML struct{}

var _ Codec = YAML{}

type recordDoc struct {
	Name     string         `yaml:"name"`
	Version  string         `yaml:"version"`
	Platform string         `yaml:"platform,omitempty"`
	Metadata map[string]any `yaml:"metadata,omitempty"`
}

func toDoc(rec spec.Record) recordDoc {
	return recordDoc{
		Name:     rec.ID.Name,
		Version:  rec.ID.Version,
		Platform: string(rec.ID.Platform.Normalize()),
		Metadata: rec.Metadata,
	}
}

func (d recordDoc) record() (spec.Record, error) {
	if strings.TrimSpace(d.Name) == "" || strings.TrimSpace(d.Version) == "" {
		return spec.Record{}, errors.New("record missing name or version")
	}
	id := spec.NewIdentifier(d.Name, d.Version, spec.Platform(d.Platform))
	return spec.NewRecord(id, d.Metadata), nil
}

func (YAML) EncodeIndex(idx *spec.Index) ([]byte, error) {
	docs := make([]recordDoc, 0, idx.Len())
	for _, rec := range idx.Records() {
		docs = append(docs, toDoc(rec))
	}
	return yaml.Marshal(docs)
}

func (YAML) DecodeIndex(data []byte) (*spec.Index, error) {
	var docs []recordDoc
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return nil, decodeErr("index", err)
	}
	records := make([]spec.Record, 0, len(docs))
	for _, doc := range docs {
		rec, err := doc.record()
		if err != nil {
			return nil, decodeErr("index entry", err)
		}
		records = append(records, rec)
	}
	return spec.NewIndex(records...), nil
}

func (YAML) EncodeRecord(rec spec.Record) ([]byte, error) {
	return yaml.Marshal(toDoc(rec))
}

func (YAML) DecodeRecord(data []byte) (spec.Record, error) {
	var doc recordDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return spec.Record{}, decodeErr("record", err)
	}
	rec, err := doc.record()
	if err != nil {
		return spec.Record{}, decodeErr("record", err)
	}
	return rec, nil
}

// ParseListing 解析 quick/index 的文本内容：每行一个 full name，空行忽略，重复行去重。
func ParseListing(data []byte) ([]string, error) {
	var names []string
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.ContainsAny(line, " \t") {
			return nil, decodeErr("listing", errors.New("unexpected whitespace in "+line))
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		names = append(names, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, decodeErr("listing", err)
	}
	return names, nil
}

// EncodeListing 是 ParseListing 的逆操作，测试桩用它生成 quick/index。
func EncodeListing(names []string) []byte {
	var buf bytes.Buffer
	for _, name := range names {
		buf.WriteString(name)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}
