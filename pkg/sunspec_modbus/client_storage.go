package sunspec_modbus

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

const (
	SUNSPEC_WK_COMMON  = 1
	SUNSPEC_WK_STATUS  = 122
	SUNSPEC_WK_STORAGE = 124
	SUNSPEC_WK_END     = 0xFFFF

	sunspecBaseAddr   = 40000
	maxSurveyedBlocks = 20
)

type storageModbusBlocks struct {
	common  uint16
	status  uint16
	storage uint16
}

func (blk *storageModbusBlocks) AllBlocksDefined() bool {
	return blk.common > 0 && blk.status > 0 && blk.storage > 0
}

// StorageModbusClient talks to an inverter exposing SunSpec int+SF models over Modbus TCP.
type StorageModbusClient struct {
	ModbusClient

	logger *zap.Logger
	blocks storageModbusBlocks
}

func CreateStorageModbusClient(host string, port uint, unitId uint8, timeout time.Duration,
	logger *zap.Logger, instrumentation *ModbusInstrument) (*StorageModbusClient, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s:%d", host, port),
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}

	if unitId > 0 {
		err = client.SetUnitId(unitId)
		if err != nil {
			return nil, err
		}
	}

	logger = logger.With(zap.String("target", "storage"), zap.Uint8("unit_id", unitId))
	inst := []ModbusInstrument{debugLoggerInstrumentation(logger)}
	if instrumentation != nil {
		inst = append(inst, *instrumentation)
	}

	return &StorageModbusClient{
		ModbusClient: ModbusClient{
			client:     client,
			instrument: inst,
		},
		logger: logger,
	}, nil
}

func (c *StorageModbusClient) Open() error {
	if err := c.client.Open(); err != nil {
		return err
	}
	if err := c.survey(); err != nil {
		c.client.Close()
		return err
	}
	return nil
}

func (c *StorageModbusClient) Close() error {
	return c.client.Close()
}

func (c *StorageModbusClient) GetInfo() (*StorageInfo, error) {
	manufacturer, err := c.readString(c.blocks.common+2, 32)
	if err != nil {
		return nil, err
	}
	model, err := c.readString(c.blocks.common+18, 32)
	if err != nil {
		return nil, err
	}
	version, err := c.readString(c.blocks.common+42, 16)
	if err != nil {
		return nil, err
	}
	serial, err := c.readString(c.blocks.common+50, 32)
	if err != nil {
		return nil, err
	}
	controlable, err := c.storageConnected()
	if err != nil {
		return nil, err
	}
	maxRate, err := c.getMaxChargeRate()
	if err != nil {
		return nil, err
	}
	return &StorageInfo{
		Manufacturer:       manufacturer,
		Model:              model,
		Version:            version,
		Serial:             serial,
		MaxChargeRateWatt:  uint32(maxRate),
		StorageControlable: controlable,
	}, nil
}

func (c *StorageModbusClient) GetStorageState() (*StorageState, error) {
	regs, err := c.readRegisters(c.blocks.storage+2, 24)
	if err != nil {
		return nil, err
	}
	soc := applySF(regs[6], regs[20])
	if regs[9] == StorageChargeStatusOff {
		soc = 0
	}
	return &StorageState{
		StateOfCharge:   soc,
		ChargeStatus:    regs[9],
		ChargeStatusStr: StorageChargeStatusToString(regs[9]),
	}, nil
}

func (c *StorageModbusClient) SetStorageControl(params StorageControlParams) error {
	maxRate, err := c.getMaxChargeRate()
	if err != nil {
		return err
	}
	cmd, err := storageRates(params, maxRate)
	if err != nil {
		return err
	}
	c.logger.Debug("sunspec: set storage control",
		zap.Float64("out_pct", cmd.OutWRtePct), zap.Float64("in_pct", cmd.InWRtePct),
		zap.Uint16("mode", cmd.ControlMode), zap.Int32("revert_s", cmd.RevertTimeSeconds))
	return c.writeStorageRates(cmd)
}

func (c *StorageModbusClient) DisableStorageControl() error {
	return c.writeStorageRates(storageRateCommand{
		OutWRtePct:        100,
		InWRtePct:         100,
		RevertTimeSeconds: -1,
	})
}

func (c *StorageModbusClient) writeStorageRates(cmd storageRateCommand) error {
	inoutSF, err := c.readRegister(c.blocks.storage + 25)
	if err != nil {
		return err
	}
	outWRte := int16(math.Round(applySFInv(cmd.OutWRtePct, inoutSF)))
	inWRte := int16(math.Round(applySFInv(cmd.InWRtePct, inoutSF)))

	// rates first, then the control mode so a half-applied command stays uncontrolled
	if err := c.writeRegisters(c.blocks.storage+12, []uint16{uint16(outWRte), uint16(inWRte)}); err != nil {
		return err
	}
	if err := c.writeRegister(c.blocks.storage+5, cmd.ControlMode); err != nil {
		return err
	}
	if cmd.RevertTimeSeconds >= 0 {
		return c.writeRegister(c.blocks.storage+15, uint16(cmd.RevertTimeSeconds))
	}
	return nil
}

func (c *StorageModbusClient) storageConnected() (bool, error) {
	if c.blocks.status == 0 {
		return c.blocks.storage > 0, nil
	}
	storageConn, err := c.readRegister(c.blocks.status + 3)
	if err != nil {
		return false, err
	}
	return storageConn&0x0001 != 0 && c.blocks.storage > 0, nil
}

func (c *StorageModbusClient) getMaxChargeRate() (float64, error) {
	wChaMax, err := c.readRegister(c.blocks.storage + 2)
	if err != nil {
		return 0, err
	}
	wChaMaxSF, err := c.readRegister(c.blocks.storage + 18)
	if err != nil {
		return 0, err
	}
	return applySF(wChaMax, wChaMaxSF), nil
}

func (c *StorageModbusClient) survey() error {

	str, err := c.readString(sunspecBaseAddr, 4)
	if err != nil {
		return err
	}
	if str != "SunS" {
		return errors.New("could not find a SunSpec device")
	}

	blocks := storageModbusBlocks{}
	var baseAddr uint16 = sunspecBaseAddr + 2
	for n := 0; n < maxSurveyedBlocks && !blocks.AllBlocksDefined(); n++ {
		id, err := c.readRegister(baseAddr)
		if err != nil {
			return err
		}
		if id == SUNSPEC_WK_END {
			break
		}
		length, err := c.readRegister(baseAddr + 1)
		if err != nil {
			return err
		}
		switch id {
		case SUNSPEC_WK_COMMON:
			blocks.common = baseAddr
		case SUNSPEC_WK_STATUS:
			blocks.status = baseAddr
		case SUNSPEC_WK_STORAGE:
			blocks.storage = baseAddr
		}
		baseAddr = baseAddr + length + 2
	}
	if blocks.common == 0 || blocks.storage == 0 {
		return errors.New("could not find the required sunspec blocks (common, storage)")
	}
	c.blocks = blocks
	return nil
}

// storageRateCommand is a storage command in the register units of model 124.
type storageRateCommand struct {
	OutWRtePct        float64
	InWRtePct         float64
	ControlMode       uint16
	RevertTimeSeconds int32
}

const (
	storCtlCharge    = 0x01
	storCtlDischarge = 0x02
)

// storageRates converts watt limits to the percent rates of model 124. A negative discharge
// rate forces charging and a negative charge rate forces discharging.
func storageRates(params StorageControlParams, maxRateWatt float64) (storageRateCommand, error) {
	if maxRateWatt <= 0 {
		return storageRateCommand{}, fmt.Errorf("sunspec: invalid storage max rate %.0fW", maxRateWatt)
	}
	cmd := storageRateCommand{
		OutWRtePct:        100,
		InWRtePct:         100,
		RevertTimeSeconds: int32(params.RevertTimeSeconds),
	}
	pct := func(w int32) float64 {
		return math.Min(100, float64(w)/maxRateWatt*100)
	}
	if params.MinChargePowerWatt >= 0 {
		cmd.OutWRtePct = -pct(params.MinChargePowerWatt)
		cmd.ControlMode |= storCtlDischarge
	}
	if params.MaxChargePowerWatt >= 0 {
		cmd.InWRtePct = pct(params.MaxChargePowerWatt)
		cmd.ControlMode |= storCtlCharge
	}
	if params.MinDischargePowerWatt >= 0 {
		cmd.InWRtePct = -pct(params.MinDischargePowerWatt)
		cmd.ControlMode |= storCtlCharge
	}
	if params.MaxDischargePowerWatt >= 0 {
		cmd.OutWRtePct = pct(params.MaxDischargePowerWatt)
		cmd.ControlMode |= storCtlDischarge
	}
	return cmd, nil
}

func debugLoggerInstrumentation(logger *zap.Logger) ModbusInstrument {
	return ModbusInstrument{
		RecordTime: func(fnName string, readTime time.Duration) {
			logger.Debug("modbus call", zap.String("fn", fnName), zap.Int64("millis", readTime.Milliseconds()))
		},
	}
}

// ensure interface compliance
var _ StorageController = (*StorageModbusClient)(nil)
