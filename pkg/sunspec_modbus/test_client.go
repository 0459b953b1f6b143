package sunspec_modbus

import "sync"

// TestStorageController is an in-memory StorageController recording every command.
type TestStorageController struct {
	mu       sync.Mutex
	Params   []StorageControlParams
	Disabled int
	Err      error
	SoC      float64
}

func CreateTestStorageController() *TestStorageController {
	return &TestStorageController{SoC: 50}
}

func (c *TestStorageController) Open() error {
	return nil
}

func (c *TestStorageController) Close() error {
	return nil
}

func (c *TestStorageController) GetInfo() (*StorageInfo, error) {
	return &StorageInfo{
		Manufacturer:       "Frostnews",
		Model:              "Primo GEN24 4.0",
		Version:            "1.30.7-1",
		MaxChargeRateWatt:  5120,
		StorageControlable: true,
	}, nil
}

func (c *TestStorageController) GetStorageState() (*StorageState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &StorageState{
		StateOfCharge:   c.SoC,
		ChargeStatus:    StorageChargeStatusHolding,
		ChargeStatusStr: StorageChargeStatusToString(StorageChargeStatusHolding),
	}, nil
}

func (c *TestStorageController) SetStorageControl(params StorageControlParams) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.Params = append(c.Params, params)
	return nil
}

func (c *TestStorageController) DisableStorageControl() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.Disabled++
	return nil
}

// LastParams returns the last accepted command, if any.
func (c *TestStorageController) LastParams() (StorageControlParams, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Params) == 0 {
		return StorageControlParams{}, false
	}
	return c.Params[len(c.Params)-1], true
}
