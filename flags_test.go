package mms

import "testing"

func TestSendFlags(t *testing.T) {
	t.Run("Has", func(t *testing.T) {
		f := SendFlagRequestDeliveryReport
		if !f.Has(SendFlagRequestDeliveryReport) {
			t.Error("expected delivery-report bit")
		}
		if f.Has(SendFlagRequestReadReport) {
			t.Error("did not expect read-report bit")
		}
		both := SendFlagRequestDeliveryReport | SendFlagRequestReadReport
		if !both.Has(SendFlagRequestDeliveryReport | SendFlagRequestReadReport) {
			t.Error("expected both bits")
		}
	})

	t.Run("With and Without", func(t *testing.T) {
		var f SendFlags
		f = f.With(SendFlagRequestReadReport)
		if !f.Has(SendFlagRequestReadReport) {
			t.Error("expected read-report bit after With")
		}
		f = f.Without(SendFlagRequestReadReport)
		if f != 0 {
			t.Errorf("expected no bits after Without, got %v", f)
		}
	})

	t.Run("String", func(t *testing.T) {
		tests := []struct {
			flags SendFlags
			want  string
		}{
			{0, "none"},
			{SendFlagRequestDeliveryReport, "delivery-report"},
			{SendFlagRequestReadReport, "read-report"},
			{SendFlagRequestDeliveryReport | SendFlagRequestReadReport, "delivery-report|read-report"},
			{SendFlags(1 << 7), "unknown-bits"},
		}
		for _, tt := range tests {
			if got := tt.flags.String(); got != tt.want {
				t.Errorf("SendFlags(%d).String() = %q, want %q", tt.flags, got, tt.want)
			}
		}
	})
}
