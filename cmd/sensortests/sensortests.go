package main

import (
	"fmt"
	"time"

	"github.com/alecthomas/kong"

	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/h3lis331dl"
	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/ina219"
	"github.com/tigerbot-team/tigerbot/melty-controller/pkg/rotation"
)

var CLI struct {
	Bus        string        `help:"I2C bus." default:"/dev/i2c-1"`
	SPI        string        `help:"Talk to the accelerometer over this SPI port instead of I2C."`
	AccelAddr  int           `help:"Accelerometer I2C address." default:"25"`
	Scale      int           `help:"Accelerometer full scale, in g: 100, 200 or 400." default:"200"`
	Radius     float64       `help:"Accelerometer radius, in cm, for the rotation estimate." default:"5"`
	INAAddr    int           `help:"INA219 I2C address." default:"64"`
	ShuntOhms  float64       `help:"INA219 shunt resistance." default:"0.1"`
	MaxCurrent float64       `help:"INA219 expected maximum current." default:"3.2"`
	Period     time.Duration `help:"Time between readings." default:"500ms"`
}

func main() {
	kong.Parse(&CLI, kong.Description("Prints accelerometer and battery monitor readings."))

	scale := h3lis331dl.FullScale(CLI.Scale)
	if !scale.Valid() {
		fmt.Println("Full scale must be 100, 200 or 400, not", CLI.Scale)
		return
	}
	var accel h3lis331dl.Interface
	var err error
	if CLI.SPI != "" {
		accel, err = h3lis331dl.NewSPI(CLI.SPI, scale)
	} else {
		accel, err = h3lis331dl.NewI2C(CLI.Bus, CLI.AccelAddr, scale)
	}
	if err != nil {
		fmt.Println("Failed to open accelerometer", err)
		return
	}
	id, err := accel.DeviceIdentify()
	fmt.Printf("Accelerometer WHO_AM_I: %#x (expected %#x) %v\n", id, h3lis331dl.WhoAmIValue, err)
	if err := accel.Configure(); err != nil {
		fmt.Println("Failed to configure accelerometer", err)
		return
	}

	monitor, err := ina219.NewI2C(CLI.Bus, CLI.INAAddr)
	if err != nil {
		fmt.Println("Failed to open ina219", err)
		return
	}
	if err := monitor.Configure(CLI.ShuntOhms, CLI.MaxCurrent); err != nil {
		fmt.Println("Failed to configure ina219", err)
		return
	}

	for range time.NewTicker(CLI.Period).C {
		for _, axis := range []h3lis331dl.Axis{h3lis331dl.X, h3lis331dl.Y, h3lis331dl.Z} {
			g, err := accel.ReadG(axis)
			fmt.Printf("%v: %7.2fg %v ", axis, g, err)
			if axis == h3lis331dl.X && err == nil {
				fmt.Printf("(%.1fms) ", rotation.Estimate(g, CLI.Radius))
			}
		}
		fmt.Println()
		voltage, err := monitor.ReadBusVoltage()
		fmt.Printf("Battery: %.2fV %v ", voltage, err)
		current, err := monitor.ReadCurrent()
		fmt.Printf("%.3fA %v ", current, err)
		power, err := monitor.ReadPower()
		fmt.Printf("%.3fW %v\n", power, err)
	}
}
