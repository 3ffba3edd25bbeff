package process

import "strings"

// MergeEnv concatenates KEY=VALUE lists so that each key appears once, at the
// position of its first occurrence, carrying the value of its last one.
func MergeEnv(lists ...[]string) []string {
	var out []string
	idx := map[string]int{}
	for _, l := range lists {
		for _, kv := range l {
			k, _, _ := strings.Cut(kv, "=")
			if i, ok := idx[k]; ok {
				out[i] = kv
				continue
			}
			idx[k] = len(out)
			out = append(out, kv)
		}
	}
	return out
}
