package store

// InboxCluster is the landing cluster for every new node.
const InboxCluster = "_inbox"

// Index is the derived lookup structure of one store. It is rebuilt from
// cluster files and links.json by Prune and is never the source of truth.
type Index struct {
	Tags     map[string][]string     `json:"tags"`
	Types    map[string][]string     `json:"types"`
	UIDFile  map[string]string       `json:"uid_file"`
	LinksIn  map[string][]string     `json:"links_in"`
	Clusters map[string]*ClusterMeta `json:"clusters"`
}

// ClusterMeta summarizes one cluster file.
type ClusterMeta struct {
	TopTags []string `json:"top_tags"`
	Size    int      `json:"size"`
}

// NewIndex returns an empty Index with all maps allocated.
func NewIndex() *Index {
	idx := &Index{}
	idx.fill()
	return idx
}

func (idx *Index) fill() {
	if idx.Tags == nil {
		idx.Tags = map[string][]string{}
	}
	if idx.Types == nil {
		idx.Types = map[string][]string{}
	}
	if idx.UIDFile == nil {
		idx.UIDFile = map[string]string{}
	}
	if idx.LinksIn == nil {
		idx.LinksIn = map[string][]string{}
	}
	if idx.Clusters == nil {
		idx.Clusters = map[string]*ClusterMeta{}
	}
}

// addUnique appends value to m[key] unless already present.
func addUnique(m map[string][]string, key, value string) {
	for _, v := range m[key] {
		if v == value {
			return
		}
	}
	m[key] = append(m[key], value)
}

// removeValue deletes value from m[key], dropping the key once empty.
func removeValue(m map[string][]string, key, value string) {
	values, ok := m[key]
	if !ok {
		return
	}
	out := values[:0]
	for _, v := range values {
		if v != value {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		delete(m, key)
		return
	}
	m[key] = out
}

// removeEverywhere deletes value from every key of m.
func removeEverywhere(m map[string][]string, value string) {
	for key := range m {
		removeValue(m, key, value)
	}
}

func ensureCluster(idx *Index, name string) *ClusterMeta {
	meta, ok := idx.Clusters[name]
	if !ok || meta == nil {
		meta = &ClusterMeta{TopTags: []string{}}
		idx.Clusters[name] = meta
	}
	return meta
}
