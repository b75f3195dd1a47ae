package packet

import "fmt"

// Client -> cell.
const (
	C_OPCODE_BIND        byte = 1 // [entityID D]
	C_OPCODE_UPDATE_DATA byte = 2 // [x F][y F][z F][yaw F][pitch F][roll F][onGround C][spaceID DU]
	C_OPCODE_HEARTBEAT   byte = 3
	C_OPCODE_REMOTE_CALL byte = 4 // [method S][args blob] cell method of the bound entity
)

// ClientOpcodeName names a client opcode for logs.
func ClientOpcodeName(op byte) string {
	switch op {
	case C_OPCODE_BIND:
		return "C_BIND"
	case C_OPCODE_UPDATE_DATA:
		return "C_UPDATE_DATA"
	case C_OPCODE_HEARTBEAT:
		return "C_HEARTBEAT"
	case C_OPCODE_REMOTE_CALL:
		return "C_REMOTE_CALL"
	}
	return fmt.Sprintf("C_0x%02X", op)
}

// Cell -> client. A frame carries a sequence of [opcode C][len H][body] messages.
const (
	S_OPCODE_ENTER_SPACE     byte = 1  // [spaceID DU]
	S_OPCODE_LEAVE_SPACE     byte = 2  // [spaceID DU]
	S_OPCODE_SET_POSITION    byte = 3  // [id D][x F][y F][z F]
	S_OPCODE_SET_DIRECTION   byte = 4  // [id D][yaw F][pitch F][roll F]
	S_OPCODE_BASE_POS        byte = 5  // [x F][y F][z F]
	S_OPCODE_BASE_POS_XZ     byte = 6  // [x F][z F]
	S_OPCODE_BASE_DIR        byte = 7  // [yaw F][pitch F][roll F]
	S_OPCODE_UPDATE_PROPERTY byte = 8  // [id D][x F][y F][z F][yaw F][pitch F][roll F][n H]{[name S][value S]}
	S_OPCODE_ENTER_WORLD     byte = 9  // [id D][utype H]([onGround C] only when airborne)
	S_OPCODE_LEAVE_WORLD     byte = 10 // [alias C | id D]
	S_OPCODE_REMOTE_CALL     byte = 11 // [id D][method S][args blob]
	S_OPCODE_REMOTE_CALL_OPT byte = 12 // [alias C][method S][args blob]
	S_OPCODE_ENTITY_GONE     byte = 13 // [id D][cell Q] bound entity handed to another cell

	// S_OPCODE_UPDATE_DATA is the base of the volatile update block:
	// opcode = base + posKind*8 + dirKind. Body: [alias C | id D] then the
	// packed xz (3), packed y (2) and one int8 per angle, in that order.
	S_OPCODE_UPDATE_DATA byte = 0x20
)

// Volatile position kinds.
const (
	PosNone = iota
	PosXZ
	PosXYZ
)

// Volatile direction kinds. Angles are written yaw, pitch, roll.
const (
	DirNone = iota
	DirY
	DirP
	DirR
	DirYP
	DirYR
	DirPR
	DirYPR
)

// UpdateDataOpcode returns the opcode for a position/direction combination.
func UpdateDataOpcode(pos, dir int) byte {
	return S_OPCODE_UPDATE_DATA + byte(pos*8+dir)
}

// SplitUpdateData is the inverse of UpdateDataOpcode. ok is false for
// opcodes outside the block.
func SplitUpdateData(op byte) (pos, dir int, ok bool) {
	if op < S_OPCODE_UPDATE_DATA || op >= S_OPCODE_UPDATE_DATA+24 {
		return 0, 0, false
	}
	n := int(op - S_OPCODE_UPDATE_DATA)
	return n / 8, n % 8, true
}

// DirHas reports which angles a direction kind carries.
func DirHas(dir int) (yaw, pitch, roll bool) {
	switch dir {
	case DirY:
		return true, false, false
	case DirP:
		return false, true, false
	case DirR:
		return false, false, true
	case DirYP:
		return true, true, false
	case DirYR:
		return true, false, true
	case DirPR:
		return false, true, true
	case DirYPR:
		return true, true, true
	}
	return false, false, false
}
