package math

import "github.com/spaghettifunk/lumen/engine/core"

// GeometryGenerateNormals writes a face normal into the three vertices of
// every triangle. Vertices shared between faces keep the normal of the last
// face that references them.
func GeometryGenerateNormals(vertices []Vertex, indices []uint32) {
	for i := 0; i+2 < len(indices); i += 3 {
		i0 := indices[i+0]
		i1 := indices[i+1]
		i2 := indices[i+2]
		if int(i0) >= len(vertices) || int(i1) >= len(vertices) || int(i2) >= len(vertices) {
			continue
		}

		edge1 := vertices[i1].Position.Sub(vertices[i0].Position)
		edge2 := vertices[i2].Position.Sub(vertices[i0].Position)

		// NOTE: face normals only. Smoothing is a separate pass.
		normal := edge1.Cross(edge2).Normalized()
		vertices[i0].Normal = normal
		vertices[i1].Normal = normal
		vertices[i2].Normal = normal
	}
}

func reassignIndex(indices []uint32, from uint32, to uint32) {
	for i := range indices {
		if indices[i] == from {
			indices[i] = to
		} else if indices[i] > from {
			// Pull in all indices higher than 'from' by 1.
			indices[i]--
		}
	}
}

// GeometryDeduplicateVertices removes identical vertices and rewrites indices
// in place to point at the unique ones.
func GeometryDeduplicateVertices(vertices []Vertex, indices []uint32) []Vertex {
	unique := make([]Vertex, 0, len(vertices))
	found := uint32(0)

	for v := range vertices {
		duplicate := false
		for u := range unique {
			if vertices[v] == unique[u] {
				reassignIndex(indices, uint32(v)-found, uint32(u))
				duplicate = true
				found++
				break
			}
		}
		if !duplicate {
			unique = append(unique, vertices[v])
		}
	}

	core.LogDebug("deduplicate vertices: removed %d vertices, orig/now %d/%d", len(vertices)-len(unique), len(vertices), len(unique))
	return unique
}
