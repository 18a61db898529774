package vec

import "math"

// Quat представляет кватернион ориентации (x, y, z, w).
type Quat struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
	W float32 `json:"w"`
}

// QuatIdentity возвращает единичный кватернион
func QuatIdentity() Quat {
	return Quat{W: 1}
}

// Equals проверяет точное равенство кватернионов
func (q Quat) Equals(other Quat) bool {
	return q.X == other.X && q.Y == other.Y && q.Z == other.Z && q.W == other.W
}

// Dot возвращает скалярное произведение
func (q Quat) Dot(other Quat) float32 {
	return q.X*other.X + q.Y*other.Y + q.Z*other.Z + q.W*other.W
}

// Lerp выполняет покомпонентную линейную интерполяцию (без нормализации).
// Используется как fallback для Slerp при почти совпадающих ориентациях.
func (q Quat) Lerp(target Quat, t float32) Quat {
	return Quat{
		X: q.X*(1-t) + target.X*t,
		Y: q.Y*(1-t) + target.Y*t,
		Z: q.Z*(1-t) + target.Z*t,
		W: q.W*(1-t) + target.W*t,
	}
}

// Slerp выполняет сферическую линейную интерполяцию между двумя ориентациями.
// При |dot| > 0.9995 (угол меньше ~1.8°) sin(theta) близок к нулю, поэтому
// переключаемся на линейную смесь — иначе деление даёт мусор.
func (q Quat) Slerp(target Quat, t float32) Quat {
	dot := q.Dot(target)

	if dot > 0.9995 || dot < -0.9995 {
		return q.Lerp(target, t)
	}

	theta0 := math.Acos(math.Abs(float64(dot)))
	sinTheta0 := math.Sin(theta0)

	theta := theta0 * float64(t)
	sinTheta := math.Sin(theta)
	cosTheta := math.Cos(theta)

	s0 := float32(cosTheta - float64(dot)*sinTheta/sinTheta0)
	s1 := float32(sinTheta / sinTheta0)

	return Quat{
		X: s0*q.X + s1*target.X,
		Y: s0*q.Y + s1*target.Y,
		Z: s0*q.Z + s1*target.Z,
		W: s0*q.W + s1*target.W,
	}
}
