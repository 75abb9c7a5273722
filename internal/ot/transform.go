package ot

// Transform takes two concurrent text operations created against the same
// document state and returns op1' (op1 rebased over op2) and op2' (op2 rebased
// over op1), so that apply(apply(d, op1), op2') == apply(apply(d, op2), op1').
func Transform(op1, op2 Operation) (Operation, Operation) {
	return transformAgainst(op1, op2), transformAgainst(op2, op1)
}

// transformAgainst rebases op so that it applies after other.
func transformAgainst(op, other Operation) Operation {
	if op.IsNoop() || other.IsNoop() {
		return op
	}

	switch {
	case op.IsInsert() && other.IsInsert():
		return insertAfterInsert(op, other)
	case op.IsDelete() && other.IsDelete():
		return deleteAfterDelete(op, other)
	case op.IsInsert() && other.IsDelete():
		// A delete strictly before the insert point pulls it left.
		if other.Position < op.Position {
			op.Position--
		}

		return op
	default:
		// op is Delete, other is Insert: text inserted at or before the
		// deleted character pushes it right.
		if other.Position <= op.Position {
			op.Position += other.width()
		}

		return op
	}
}

func insertAfterInsert(op, other Operation) Operation {
	switch {
	case other.Position < op.Position:
		op.Position += other.width()
	case other.Position == op.Position && wins(other, op):
		// Same offset: the lower UserID keeps the offset, the other shifts right.
		op.Position += other.width()
	}

	return op
}

// wins reports whether a is placed first when a and b insert at one offset.
func wins(a, b Operation) bool {
	if a.UserID != b.UserID {
		return a.UserID < b.UserID
	}

	return a.Char <= b.Char
}

func deleteAfterDelete(op, other Operation) Operation {
	switch {
	case other.Position < op.Position:
		op.Position--
	case other.Position == op.Position:
		// Both removed the same character.
		op.Position = -1
	}

	return op
}
