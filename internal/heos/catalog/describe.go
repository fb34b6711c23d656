package catalog

// Describe renders a node and its loaded subtree as a JSON-ready map. Each
// variant has a fixed set of keys.
func Describe(node Node) map[string]any {
	switch n := node.(type) {
	case *Source:
		criteria := n.SearchCriteria()
		described := make([]map[string]any, 0, len(criteria))
		for _, c := range criteria {
			described = append(described, describeCriteria(c))
		}
		return map[string]any{
			"kind":             string(KindSource),
			"sid":              n.SID,
			"name":             n.Name,
			"type":             n.Type,
			"image_url":        n.ImageURL,
			"available":        n.IsAvailable(),
			"service_username": n.ServiceUsername,
			"search_criteria":  described,
			"children":         describeAll(n.Children()),
		}
	case *Container:
		sid, _ := n.SID()
		return map[string]any{
			"kind":         string(KindContainer),
			"cid":          n.CID,
			"sid":          sid,
			"name":         n.Name,
			"type":         n.Type,
			"image_url":    n.ImageURL,
			"is_container": n.IsContainer,
			"is_playable":  n.IsPlayable,
			"children":     describeAll(n.Children()),
		}
	case *Track:
		return map[string]any{
			"kind":        string(KindTrack),
			"mid":         n.MID,
			"name":        n.Name,
			"type":        n.Type,
			"artist":      n.Artist,
			"album":       n.Album,
			"image_url":   n.ImageURL,
			"is_playable": n.IsPlayable,
		}
	default:
		return nil
	}
}

func describeAll(nodes []Node) []map[string]any {
	out := make([]map[string]any, 0, len(nodes))
	for _, node := range nodes {
		out = append(out, Describe(node))
	}
	return out
}

func describeCriteria(c SearchCriteria) map[string]any {
	return map[string]any{
		"scid":     c.SCID,
		"name":     c.Name,
		"wildcard": c.Wildcard,
		"playable": c.Playable,
		"cid":      c.CID,
	}
}
