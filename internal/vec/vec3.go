package vec

import "math"

// Vec3 представляет трёхмерный вектор с плавающими координатами (float32,
// как в сетевом формате снапшотов).
type Vec3 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// Equals проверяет точное равенство векторов (без эпсилона —
// интерполяция обязана сходиться бит-в-бит).
func (v Vec3) Equals(other Vec3) bool {
	return v.X == other.X && v.Y == other.Y && v.Z == other.Z
}

// Add складывает два вектора
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// Sub вычитает другой вектор
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Scale умножает вектор на скаляр
func (v Vec3) Scale(s float32) Vec3 {
	return Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

// Lerp выполняет линейную интерполяцию к другому вектору (t ∈ [0,1])
func (v Vec3) Lerp(target Vec3, t float32) Vec3 {
	return Vec3{
		X: v.X*(1-t) + target.X*t,
		Y: v.Y*(1-t) + target.Y*t,
		Z: v.Z*(1-t) + target.Z*t,
	}
}

// DistanceTo возвращает евклидово расстояние до другого вектора
func (v Vec3) DistanceTo(other Vec3) float64 {
	dx := float64(v.X - other.X)
	dy := float64(v.Y - other.Y)
	dz := float64(v.Z - other.Z)
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
