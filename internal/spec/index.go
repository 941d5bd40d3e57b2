package spec

import (
	"regexp"
	"sort"

	"github.com/hashicorp/go-version"
)

// Index 是单个源的 Identifier -> Record 映射。构造完成后不可修改，Merge 等操作总是返回新实例。
type Index struct {
	records map[Identifier]Record
	ordered []Identifier
}

// NewIndex 以给定记录构建索引；重复的 Identifier 以后出现的为准。
func NewIndex(records ...Record) *Index {
	m := make(map[Identifier]Record, len(records))
	for _, rec := range records {
		rec.ID = NewIdentifier(rec.ID.Name, rec.ID.Version, rec.ID.Platform)
		m[rec.ID] = rec
	}
	return buildIndex(m)
}

// EmptyIndex 返回空索引，作为首次同步的基线。
func EmptyIndex() *Index {
	return buildIndex(map[Identifier]Record{})
}

func buildIndex(m map[Identifier]Record) *Index {
	ordered := make([]Identifier, 0, len(m))
	for id := range m {
		ordered = append(ordered, id)
	}
	sortIdentifiers(ordered)
	return &Index{records: m, ordered: ordered}
}

// Len 返回记录数，nil 索引视为空。
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.records)
}

// Get 按标识符查找记录。
func (idx *Index) Get(id Identifier) (Record, bool) {
	if idx == nil {
		return Record{}, false
	}
	rec, ok := idx.records[NewIdentifier(id.Name, id.Version, id.Platform)]
	return rec, ok
}

// Has reports whether id is present.
func (idx *Index) Has(id Identifier) bool {
	_, ok := idx.Get(id)
	return ok
}

// Records 以稳定顺序返回全部记录：name、version（可解析时按语义比较）、full name。
func (idx *Index) Records() []Record {
	if idx == nil {
		return nil
	}
	out := make([]Record, 0, len(idx.ordered))
	for _, id := range idx.ordered {
		out = append(out, idx.records[id])
	}
	return out
}

// Identifiers 以与 Records 相同的顺序返回全部标识符。
func (idx *Index) Identifiers() []Identifier {
	if idx == nil {
		return nil
	}
	return append([]Identifier(nil), idx.ordered...)
}

// FullNames 返回 full name -> Identifier 映射，供 listing diff 使用。
func (idx *Index) FullNames() map[string]Identifier {
	out := make(map[string]Identifier, idx.Len())
	if idx == nil {
		return out
	}
	for _, id := range idx.ordered {
		out[id.FullName()] = id
	}
	return out
}

// FindName 返回指定包名的全部版本。
func (idx *Index) FindName(name string) []Record {
	var out []Record
	for _, rec := range idx.Records() {
		if rec.ID.Name == name {
			out = append(out, rec)
		}
	}
	return out
}

// Search 返回 full name 匹配正则的记录。
func (idx *Index) Search(re *regexp.Regexp) []Record {
	var out []Record
	for _, rec := range idx.Records() {
		if re.MatchString(rec.ID.FullName()) {
			out = append(out, rec)
		}
	}
	return out
}

// Merge 返回 (idx - removed) ∪ added 的新索引，接收者保持不变。
func (idx *Index) Merge(removed []Identifier, added []Record) *Index {
	m := make(map[Identifier]Record, idx.Len()+len(added))
	if idx != nil {
		for id, rec := range idx.records {
			m[id] = rec
		}
	}
	for _, id := range removed {
		delete(m, NewIdentifier(id.Name, id.Version, id.Platform))
	}
	for _, rec := range added {
		rec.ID = NewIdentifier(rec.ID.Name, rec.ID.Version, rec.ID.Platform)
		m[rec.ID] = rec
	}
	return buildIndex(m)
}

// Equal 比较两个索引是否包含相同的标识符集合（元数据不参与比较）。
func (idx *Index) Equal(other *Index) bool {
	if idx.Len() != other.Len() {
		return false
	}
	for _, id := range idx.Identifiers() {
		if !other.Has(id) {
			return false
		}
	}
	return true
}

func sortIdentifiers(ids []Identifier) {
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := ids[i], ids[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.Version != b.Version {
			if c, ok := compareVersions(a.Version, b.Version); ok {
				return c < 0
			}
			return a.Version < b.Version
		}
		return a.FullName() < b.FullName()
	})
}

func compareVersions(a, b string) (int, bool) {
	va, err := version.NewVersion(a)
	if err != nil {
		return 0, false
	}
	vb, err := version.NewVersion(b)
	if err != nil {
		return 0, false
	}
	if c := va.Compare(vb); c != 0 {
		return c, true
	}
	return 0, false
}
