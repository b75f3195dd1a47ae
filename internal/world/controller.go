package world

import (
	"fmt"
	"math"
	"time"

	"github.com/l1jgo/cellapp/internal/coord"
	"golang.org/x/exp/slices"
)

// controller is driven once per tick by UpdateControllers.
type controller interface {
	kind() byte
	update(e *Entity, dt time.Duration) (done bool)
}

const (
	ctrlMoveToPoint byte = 1
	ctrlRotator     byte = 2
)

// moveToPoint walks the entity straight at dest with speed units/second and
// stops distance short of it.
type moveToPoint struct {
	dest           coord.Vector3
	speed          float32
	distance       float32
	faceMovement   bool
	moveVertically bool
	userArg        int32
}

func (m *moveToPoint) kind() byte { return ctrlMoveToPoint }

func (m *moveToPoint) update(e *Entity, dt time.Duration) bool {
	step := m.speed * float32(dt.Seconds())
	cur := e.pos
	dir := e.dir

	movement := m.dest.Sub(cur)
	if !m.moveVertically {
		movement.Y = 0
	}
	done := false
	dist := movement.Length()
	if dist < step+m.distance {
		y := cur.Y
		if m.distance > 0 {
			movement = normalize(movement)
			if dist > m.distance {
				cur = m.dest.Sub(movement.Scale(m.distance))
			}
		} else {
			cur = m.dest
		}
		if !m.moveVertically {
			cur.Y = y
		}
		done = true
	} else {
		movement = normalize(movement).Scale(step)
		cur = cur.Add(movement)
	}

	if m.faceMovement {
		if movement.X != 0 || movement.Z != 0 {
			dir.Yaw = float32(math.Atan2(float64(movement.X), float64(movement.Z)))
		}
		if movement.Y != 0 {
			h := math.Hypot(float64(movement.X), float64(movement.Z))
			dir.Pitch = float32(-math.Atan2(float64(movement.Y), h))
		}
	}
	e.SetPositionAndDirection(cur, dir)
	return done
}

// rotator turns yaw towards a target at speed radians/second.
type rotator struct {
	yaw     float32
	speed   float32
	userArg int32
}

func (r *rotator) kind() byte { return ctrlRotator }

func (r *rotator) update(e *Entity, dt time.Duration) bool {
	step := r.speed * float32(dt.Seconds())
	dir := e.dir
	delta := wrapAngle(r.yaw - dir.Yaw)
	if abs32(delta) <= step {
		dir.Yaw = r.yaw
		e.SetDirection(dir)
		return true
	}
	if delta > 0 {
		dir.Yaw = wrapAngle(dir.Yaw + step)
	} else {
		dir.Yaw = wrapAngle(dir.Yaw - step)
	}
	e.SetDirection(dir)
	return false
}

// MoveToPoint starts a movement controller and returns its id. OnMoveOver
// fires on arrival.
func (e *Entity) MoveToPoint(dest coord.Vector3, speed, distance float32, faceMovement, moveVertically bool, userArg int32) (uint32, error) {
	if !e.real {
		return 0, fmt.Errorf("move %d: %w", e.id, ErrNotReal)
	}
	return e.addController(&moveToPoint{
		dest:           dest,
		speed:          speed,
		distance:       distance,
		faceMovement:   faceMovement,
		moveVertically: moveVertically,
		userArg:        userArg,
	}), nil
}

// Rotate starts turning towards yaw. OnTurn fires when it is reached.
func (e *Entity) Rotate(yaw, speed float32, userArg int32) (uint32, error) {
	if !e.real {
		return 0, fmt.Errorf("rotate %d: %w", e.id, ErrNotReal)
	}
	return e.addController(&rotator{yaw: wrapAngle(yaw), speed: abs32(speed), userArg: userArg}), nil
}

func (e *Entity) addController(c controller) uint32 {
	id := e.cell.nextControllerID()
	if e.controllers == nil {
		e.controllers = make(map[uint32]controller)
	}
	e.controllers[id] = c
	return id
}

func (e *Entity) CancelController(id uint32) bool {
	if _, ok := e.controllers[id]; !ok {
		return false
	}
	delete(e.controllers, id)
	return true
}

func (e *Entity) controllerIDs() []uint32 {
	ids := make([]uint32, 0, len(e.controllers))
	for id := range e.controllers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (e *Entity) cancelControllers() {
	clear(e.controllers)
}

func (e *Entity) updateControllers(dt time.Duration) {
	for _, id := range e.controllerIDs() {
		c := e.controllers[id]
		if c == nil {
			continue
		}
		done := c.update(e, dt)
		if e.IsDestroyed() {
			return
		}
		if !done || e.controllers[id] != c {
			continue
		}
		delete(e.controllers, id)
		switch c := c.(type) {
		case *moveToPoint:
			e.cell.hooks.OnMoveOver(e, id, c.userArg)
		case *rotator:
			e.cell.hooks.OnTurn(e, id, c.userArg)
		}
		if e.IsDestroyed() {
			return
		}
	}
}

func normalize(v coord.Vector3) coord.Vector3 {
	l := v.Length()
	if l == 0 {
		return v
	}
	return v.Scale(1 / l)
}

func wrapAngle(a float32) float32 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a < -math.Pi {
		a += 2 * math.Pi
	}
	return a
}
