package resolver

// compareArtistSets intersects a candidate's artist IDs with each raw
// artist's candidate set. Only single-ID intersections count. The match is
// accepted when exactly one slot intersects, or when several do and no ID
// is shared by all of them. It returns the matched IDs, or nil.
func compareArtistSets(candidate map[string]struct{}, slots []map[string]struct{}) []string {
	var hits []string
	for _, slot := range slots {
		var inter []string
		for id := range slot {
			if _, ok := candidate[id]; ok {
				inter = append(inter, id)
			}
		}
		if len(inter) == 1 {
			hits = append(hits, inter[0])
		}
	}
	if len(hits) == 0 {
		return nil
	}
	if len(hits) == 1 {
		return hits
	}
	// Several slots matched: ambiguous only if they all matched the same ID.
	for _, h := range hits[1:] {
		if h != hits[0] {
			return hits
		}
	}
	return nil
}
