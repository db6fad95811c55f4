package simpleimage

import "github.com/google/uuid"

// UniqueImageIDs returns ids with nil ids and duplicates removed, keeping the
// first occurrence order.
func UniqueImageIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	result := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	return result
}

// DiffImageIDs compares an entity's previous and current image sets and
// returns the ids that gained and lost a reference.
func DiffImageIDs(oldIDs, newIDs []uuid.UUID) (toAdd, toRemove []uuid.UUID) {
	oldSet := UniqueImageIDs(oldIDs)
	newSet := UniqueImageIDs(newIDs)

	inOld := make(map[uuid.UUID]struct{}, len(oldSet))
	for _, id := range oldSet {
		inOld[id] = struct{}{}
	}
	inNew := make(map[uuid.UUID]struct{}, len(newSet))
	for _, id := range newSet {
		inNew[id] = struct{}{}
	}

	for _, id := range newSet {
		if _, ok := inOld[id]; !ok {
			toAdd = append(toAdd, id)
		}
	}
	for _, id := range oldSet {
		if _, ok := inNew[id]; !ok {
			toRemove = append(toRemove, id)
		}
	}
	return toAdd, toRemove
}
