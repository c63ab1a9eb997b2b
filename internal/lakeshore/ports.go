package lakeshore

import (
	"sort"
	"strings"

	"codeberg.org/dltlab/dltcal/internal/errors"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// VendorID is the USB vendor ID of Lake Shore Cryotronics.
const VendorID = "1FB9"

// Port describes a serial port seen on the host.
type Port struct {
	Name      string
	Product   string
	VID       string
	PID       string
	Serial    string
	IsUSB     bool
	LakeShore bool
}

// ListPorts returns every serial port, Lake Shore devices first.
func ListPorts() ([]Port, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		// Some platforms cannot report USB details; fall back to names.
		names, nerr := serial.GetPortsList()
		if nerr != nil {
			return nil, errors.Wrap(ErrEnumerate, errors.Join(err, nerr))
		}
		ports := make([]Port, 0, len(names))
		for _, n := range names {
			ports = append(ports, Port{Name: n})
		}
		return ports, nil
	}

	ports := make([]Port, 0, len(details))
	for _, d := range details {
		p := Port{
			Name:    d.Name,
			Product: d.Product,
			VID:     strings.ToUpper(d.VID),
			PID:     strings.ToUpper(d.PID),
			Serial:  d.SerialNumber,
			IsUSB:   d.IsUSB,
		}
		p.LakeShore = isLakeShore(p)
		ports = append(ports, p)
	}
	sortPorts(ports)
	return ports, nil
}

// FindPort returns the first port that looks like a Model 335.
func FindPort() (Port, error) {
	ports, err := ListPorts()
	if err != nil {
		return Port{}, err
	}
	for _, p := range ports {
		if p.LakeShore {
			return p, nil
		}
	}
	return Port{}, errors.New().New(ErrNoDevice)
}

func isLakeShore(p Port) bool {
	return p.VID == VendorID || strings.Contains(p.Product, "Model 335")
}

func sortPorts(ports []Port) {
	sort.SliceStable(ports, func(i, j int) bool {
		if ports[i].LakeShore != ports[j].LakeShore {
			return ports[i].LakeShore
		}
		return ports[i].Name < ports[j].Name
	})
}
