package vec

import (
	"fmt"
	"math"
)

// ChunkSize — размер чанка террейна в мировых единицах.
const ChunkSize = 64.0

// ChunkID идентифицирует чанк террейна по двум горизонтальным координатам.
type ChunkID struct {
	X int32 `json:"x"`
	Z int32 `json:"z"`
}

// ChunkForPosition возвращает чанк, которому принадлежит мировая позиция.
// Высота (Y) на принадлежность не влияет.
func ChunkForPosition(pos Vec3) ChunkID {
	return ChunkID{
		X: int32(math.Floor(float64(pos.X) / ChunkSize)),
		Z: int32(math.Floor(float64(pos.Z) / ChunkSize)),
	}
}

// String возвращает строковое представление вида "3,-1"
func (c ChunkID) String() string {
	return fmt.Sprintf("%d,%d", c.X, c.Z)
}

// Vec3i представляет позицию блока внутри мира (целочисленные координаты).
type Vec3i struct {
	X int32 `json:"x"`
	Y int32 `json:"y"`
	Z int32 `json:"z"`
}

// Equals проверяет равенство позиций
func (v Vec3i) Equals(other Vec3i) bool {
	return v.X == other.X && v.Y == other.Y && v.Z == other.Z
}
