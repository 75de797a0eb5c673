package quality

import "gorm.io/datatypes"

// MachineState is the molding-machine telemetry captured alongside a
// product. Every process parameter is optional; keys the schema does not
// know are kept verbatim in Extra.
type MachineState struct {
	ID        int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID int64 `gorm:"column:product_id;not null;uniqueIndex" json:"product_id"`

	CycleTime              *float64 `gorm:"column:cycle_time;index:idx_machine_states_cycle_time" json:"cycle_time,omitempty"`
	VTopTime               *float64 `gorm:"column:vtop_time" json:"vtop_time,omitempty"`
	ChargeTime             *float64 `gorm:"column:charge_time" json:"charge_time,omitempty"`
	CoolTimeSP             *float64 `gorm:"column:cool_time_sp" json:"cool_time_sp,omitempty"`
	InjTimeSP              *float64 `gorm:"column:inj_time_sp" json:"inj_time_sp,omitempty"`
	ClampOpenTimeCV        *float64 `gorm:"column:clamp_open_time_cv" json:"clamp_open_time_cv,omitempty"`
	ClampCloseTimeCV       *float64 `gorm:"column:clamp_close_time_cv" json:"clamp_close_time_cv,omitempty"`
	EjFwdTimeCV            *float64 `gorm:"column:ej_fwd_time_cv" json:"ej_fwd_time_cv,omitempty"`
	EjRetTimeCV            *float64 `gorm:"column:ej_ret_time_cv" json:"ej_ret_time_cv,omitempty"`
	VPTransferTimeSP       *float64 `gorm:"column:vp_transfer_time_sp" json:"vp_transfer_time_sp,omitempty"`
	HoldSegment1TimeSP     *float64 `gorm:"column:hold_segment_1_time_sp" json:"hold_segment_1_time_sp,omitempty"`
	HoldSegment2TimeSP     *float64 `gorm:"column:hold_segment_2_time_sp" json:"hold_segment_2_time_sp,omitempty"`
	HoldSegment3TimeSP     *float64 `gorm:"column:hold_segment_3_time_sp" json:"hold_segment_3_time_sp,omitempty"`
	HoldSegment4TimeSP     *float64 `gorm:"column:hold_segment_4_time_sp" json:"hold_segment_4_time_sp,omitempty"`
	InjPeakPressure        *float64 `gorm:"column:inj_peak_pressure" json:"inj_peak_pressure,omitempty"`
	FillPeakPress          *float64 `gorm:"column:fill_peak_press" json:"fill_peak_press,omitempty"`
	VTopPress              *float64 `gorm:"column:vtop_press" json:"vtop_press,omitempty"`
	HoldSegment1PressureSP *float64 `gorm:"column:hold_segment_1_pressure_sp" json:"hold_segment_1_pressure_sp,omitempty"`
	HoldSegment2PressureSP *float64 `gorm:"column:hold_segment_2_pressure_sp" json:"hold_segment_2_pressure_sp,omitempty"`
	HoldSegment3PressureSP *float64 `gorm:"column:hold_segment_3_pressure_sp" json:"hold_segment_3_pressure_sp,omitempty"`
	HoldSegment4PressureSP *float64 `gorm:"column:hold_segment_4_pressure_sp" json:"hold_segment_4_pressure_sp,omitempty"`
	HoldSegment5PressureSP *float64 `gorm:"column:hold_segment_5_pressure_sp" json:"hold_segment_5_pressure_sp,omitempty"`
	FillSegment1PressureSP *float64 `gorm:"column:fill_segment_1_pressure_sp" json:"fill_segment_1_pressure_sp,omitempty"`
	FillSegment2PressureSP *float64 `gorm:"column:fill_segment_2_pressure_sp" json:"fill_segment_2_pressure_sp,omitempty"`
	FillSegment3PressureSP *float64 `gorm:"column:fill_segment_3_pressure_sp" json:"fill_segment_3_pressure_sp,omitempty"`
	FillSegment4PressureSP *float64 `gorm:"column:fill_segment_4_pressure_sp" json:"fill_segment_4_pressure_sp,omitempty"`
	FillSegment5PressureSP *float64 `gorm:"column:fill_segment_5_pressure_sp" json:"fill_segment_5_pressure_sp,omitempty"`
	ClampForceSP           *int64   `gorm:"column:clamp_force_sp" json:"clamp_force_sp,omitempty"`
	TonnageForceCV         *int64   `gorm:"column:tonnage_force_cv" json:"tonnage_force_cv,omitempty"`
	Barrel1                *float64 `gorm:"column:barrel_1;index:idx_machine_states_barrel_temps,priority:1" json:"barrel_1,omitempty"`
	Barrel2                *float64 `gorm:"column:barrel_2;index:idx_machine_states_barrel_temps,priority:2" json:"barrel_2,omitempty"`
	Barrel3                *float64 `gorm:"column:barrel_3;index:idx_machine_states_barrel_temps,priority:3" json:"barrel_3,omitempty"`
	Barrel4                *float64 `gorm:"column:barrel_4" json:"barrel_4,omitempty"`
	Barrel5                *float64 `gorm:"column:barrel_5" json:"barrel_5,omitempty"`
	Barrel6                *float64 `gorm:"column:barrel_6" json:"barrel_6,omitempty"`
	BarrelN1               *float64 `gorm:"column:barrel_n1" json:"barrel_n1,omitempty"`
	BarrelN2               *float64 `gorm:"column:barrel_n2" json:"barrel_n2,omitempty"`
	H1TempSP               *float64 `gorm:"column:h1_temp_sp" json:"h1_temp_sp,omitempty"`
	H2TempSP               *float64 `gorm:"column:h2_temp_sp" json:"h2_temp_sp,omitempty"`
	H3TempSP               *float64 `gorm:"column:h3_temp_sp" json:"h3_temp_sp,omitempty"`
	H4TempSP               *float64 `gorm:"column:h4_temp_sp" json:"h4_temp_sp,omitempty"`
	H5TempSP               *float64 `gorm:"column:h5_temp_sp" json:"h5_temp_sp,omitempty"`
	H6TempSP               *float64 `gorm:"column:h6_temp_sp" json:"h6_temp_sp,omitempty"`
	N1TempSP               *float64 `gorm:"column:n1_temp_sp" json:"n1_temp_sp,omitempty"`
	N2TempSP               *float64 `gorm:"column:n2_temp_sp" json:"n2_temp_sp,omitempty"`
	InjStartPos            *float64 `gorm:"column:inj_start_pos" json:"inj_start_pos,omitempty"`
	VTopPos                *float64 `gorm:"column:vtop_pos" json:"vtop_pos,omitempty"`
	VPTransferPositionSP   *float64 `gorm:"column:vp_transfer_position_sp" json:"vp_transfer_position_sp,omitempty"`
	CushionMin             *float64 `gorm:"column:cushion_min" json:"cushion_min,omitempty"`
	CushionFin             *float64 `gorm:"column:cushion_fin" json:"cushion_fin,omitempty"`
	FillSegment1SP         *float64 `gorm:"column:fill_segment_1_sp" json:"fill_segment_1_sp,omitempty"`
	FillSegment2SP         *float64 `gorm:"column:fill_segment_2_sp" json:"fill_segment_2_sp,omitempty"`
	FillSegment3SP         *float64 `gorm:"column:fill_segment_3_sp" json:"fill_segment_3_sp,omitempty"`
	FillSegment4SP         *float64 `gorm:"column:fill_segment_4_sp" json:"fill_segment_4_sp,omitempty"`
	FillSegment5SP         *float64 `gorm:"column:fill_segment_5_sp" json:"fill_segment_5_sp,omitempty"`
	FillSegmentXfer1To2SP  *float64 `gorm:"column:fill_segment_xfer_1_to_2_sp" json:"fill_segment_xfer_1_to_2_sp,omitempty"`
	FillSegmentXfer2To3SP  *float64 `gorm:"column:fill_segment_xfer_2_to_3_sp" json:"fill_segment_xfer_2_to_3_sp,omitempty"`
	FillSegmentXfer3To4SP  *float64 `gorm:"column:fill_segment_xfer_3_to_4_sp" json:"fill_segment_xfer_3_to_4_sp,omitempty"`
	FillSegmentXfer4To5SP  *float64 `gorm:"column:fill_segment_xfer_4_to_5_sp" json:"fill_segment_xfer_4_to_5_sp,omitempty"`
	ShotCount              *int64   `gorm:"column:shot_count;index:idx_machine_states_shot_count" json:"shot_count,omitempty"`
	ShotSizeSP             *float64 `gorm:"column:shot_size_sp" json:"shot_size_sp,omitempty"`
	PullBackBeforeSP       *float64 `gorm:"column:pull_back_before_sp" json:"pull_back_before_sp,omitempty"`
	PullBackAfterSP        *float64 `gorm:"column:pull_back_after_sp" json:"pull_back_after_sp,omitempty"`
	BuzzerAlarm            *bool    `gorm:"column:buzzer_alarm" json:"buzzer_alarm,omitempty"`
	AlarmLED               *bool    `gorm:"column:alarm_led" json:"alarm_led,omitempty"`
	CycleStopFault         *bool    `gorm:"column:cycle_stop_fault" json:"cycle_stop_fault,omitempty"`

	Extra datatypes.JSON `gorm:"column:extra" json:"extra,omitempty"`
}

func (MachineState) TableName() string { return "machine_states" }
