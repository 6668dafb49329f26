package native

import "testing"

func TestBoxing(t *testing.T) {
	t.Run("valueOf preserves value", func(t *testing.T) {
		if got := IntegerValueOf(-100).Value; got != -100 {
			t.Errorf("IntegerValueOf(-100): got %d, want -100", got)
		}
		if got := LongValueOf(1 << 40).Value; got != 1<<40 {
			t.Errorf("LongValueOf: got %d, want %d", got, int64(1<<40))
		}
		if got := DoubleValueOf(2.5).Value; got != 2.5 {
			t.Errorf("DoubleValueOf: got %v, want 2.5", got)
		}
	})

	t.Run("fresh box each call", func(t *testing.T) {
		if IntegerValueOf(1) == IntegerValueOf(1) {
			t.Error("expected distinct boxes")
		}
	})
}

func TestIsBoxOf(t *testing.T) {
	tests := []struct {
		name string
		obj  any
		typ  BasicType
		want bool
	}{
		{"int box", IntegerValueOf(1), TInt, true},
		{"int box as long", IntegerValueOf(1), TLong, false},
		{"float box", FloatValueOf(1), TFloat, true},
		{"boolean box", &Boolean{Value: true}, TBoolean, true},
		{"char box", &Char{Value: 'a'}, TChar, true},
		{"string is not a box", "x", TInt, false},
		{"nil", nil, TInt, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsBoxOf(tt.obj, tt.typ); got != tt.want {
				t.Errorf("IsBoxOf(%v, %c): got %v, want %v", tt.obj, tt.typ, got, tt.want)
			}
		})
	}
}

func TestBasicTypeOf(t *testing.T) {
	tests := []struct {
		desc string
		want BasicType
	}{
		{"I", TInt},
		{"Ljava/lang/String;", TObject},
		{"[I", TArray},
		{"()V", TVoid},
		{"(II)J", TLong},
		{"(Ljava/lang/Object;)Ljava/lang/Object;", TObject},
	}
	for _, tt := range tests {
		if got := BasicTypeOf(tt.desc); got != tt.want {
			t.Errorf("BasicTypeOf(%q): got %c, want %c", tt.desc, got, tt.want)
		}
	}
	if !TDouble.IsPrimitive() || TObject.IsPrimitive() || TVoid.IsPrimitive() {
		t.Error("IsPrimitive classification wrong")
	}
}
