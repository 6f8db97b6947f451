package math

// Vec2 represents a 2D vector
type Vec2 struct {
	X, Y float32
}

// Vec3 represents a 3D vector
type Vec3 struct {
	X, Y, Z float32
}

// Vec4 represents a 4D vector
type Vec4 struct {
	X, Y, Z, W float32
}

// Quaternion is used to represent rotational orientation.
type Quaternion Vec4

// Mat4 is a 4x4 matrix stored row by row, with the translation in the last
// row (Data[12], Data[13], Data[14]). Points are transformed as row vectors.
type Mat4 struct {
	Data [16]float32
}

// Affine3x4 is the row-major 3x4 matrix layout expected by acceleration
// structure instances. Column 3 holds the translation.
type Affine3x4 [3][4]float32

// Vertex is the layout of a single vertex uploaded for ray tracing.
type Vertex struct {
	Position Vec3
	Normal   Vec3
	Texcoord Vec2
}

/**
 * @brief Represents the transform of an object in the world.
 * Transforms can have a parent whose own transform is then
 * taken into account. The properties should be changed through
 * the setters so the local matrix is regenerated.
 */
type Transform struct {
	Position Vec3
	Rotation Quaternion
	Scale    Vec3
	// IsDirty marks that the local matrix needs to be recalculated.
	IsDirty bool
	Local   Mat4
	Parent  *Transform
}
