/*
Package lakeshore talks to a Lake Shore Model 335 temperature controller over
its USB serial interface.

Per the Model 335 manual the serial interface uses:

	57600 baud, 1 start, 7 data, odd parity, 1 stop
	terminator CRLF
	query messages look like <mnemonic>? <parameters><terminator>
	command messages look like <mnemonic> <parameters><terminator>

Commands must be spaced; the controller drops input that arrives faster than
it can parse it, so every exchange goes through a rate limiter.
*/
package lakeshore

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"codeberg.org/dltlab/dltcal/internal/device"
	"codeberg.org/dltlab/dltcal/internal/errors"
	"codeberg.org/dltlab/dltcal/internal/logger"
	"github.com/tarm/serial"
	"golang.org/x/time/rate"
)

const (
	DefaultBaud        = 57600
	DefaultReadTimeout = 2 * time.Second

	// IdentityPrefix is the manufacturer/model part of the *IDN? reply.
	IdentityPrefix = "LSCI,MODEL335"

	commandSpacing = 50 * time.Millisecond
)

var terminator = "\r\n"

// Config selects the port to open.
type Config struct {
	Port        string
	Baud        int
	ReadTimeout time.Duration
}

func (c Config) serialConfig() *serial.Config {
	baud := c.Baud
	if baud == 0 {
		baud = DefaultBaud
	}
	timeout := c.ReadTimeout
	if timeout == 0 {
		timeout = DefaultReadTimeout
	}
	return &serial.Config{
		Name:        c.Port,
		Baud:        baud,
		Size:        7,
		Parity:      serial.ParityOdd,
		StopBits:    serial.Stop1,
		ReadTimeout: timeout,
	}
}

// Controller is a connected Model 335. It implements
// device.TemperatureController.
type Controller struct {
	mu      sync.Mutex
	conn    io.ReadWriteCloser
	rd      *bufio.Reader
	limiter *rate.Limiter
	log     logger.Logger
}

var _ device.TemperatureController = (*Controller)(nil)

// Open opens the serial port and checks that a Model 335 answers on it.
func Open(ctx context.Context, cfg Config) (*Controller, error) {
	port, err := serial.OpenPort(cfg.serialConfig())
	if err != nil {
		return nil, errors.Wrap(ErrOpenPort, err).WithMessage("open " + cfg.Port)
	}

	c := New(port, logger.New("lakeshore").With("port", cfg.Port))
	id, err := c.Identify(ctx)
	if err != nil {
		c.Close()
		return nil, errors.Wrap(device.ErrConnection, err)
	}
	if !strings.HasPrefix(id, IdentityPrefix) {
		c.Close()
		return nil, errors.New().WithData(ErrWrongIdentity, id)
	}
	c.log.Info().Str("identity", id).Msg("Temperature controller connected")
	return c, nil
}

// New wraps an already open port.
func New(conn io.ReadWriteCloser, log logger.Logger) *Controller {
	if log == nil {
		log = logger.New("lakeshore")
	}
	return &Controller{
		conn:    conn,
		rd:      bufio.NewReader(conn),
		limiter: rate.NewLimiter(rate.Every(commandSpacing), 1),
		log:     log,
	}
}

// Identify returns the *IDN? reply.
func (c *Controller) Identify(ctx context.Context) (string, error) {
	return c.query(ctx, "*IDN?")
}

// ReadAll reads both inputs in Kelvin and both heater outputs in percent.
func (c *Controller) ReadAll(ctx context.Context) (device.Reading, error) {
	temps, err := c.queryFloats(ctx, "KRDG? 0", 2)
	if err != nil {
		return device.Reading{}, errors.Wrap(device.ErrRead, err)
	}
	h1, err := c.queryFloats(ctx, "HTR? 1", 1)
	if err != nil {
		return device.Reading{}, errors.Wrap(device.ErrRead, err)
	}
	h2, err := c.queryFloats(ctx, "HTR? 2", 1)
	if err != nil {
		return device.Reading{}, errors.Wrap(device.ErrRead, err)
	}
	return device.Reading{
		Timestamp:     time.Now(),
		TemperatureA:  temps[0],
		TemperatureB:  temps[1],
		HeaterOutput1: h1[0],
		HeaterOutput2: h2[0],
	}, nil
}

// SetSetpoint sets the loop setpoint in Kelvin; the loops are configured for
// Kelvin units on the front panel.
func (c *Controller) SetSetpoint(ctx context.Context, loop int, kelvin float64) error {
	if err := checkLoop(loop); err != nil {
		return err
	}
	if err := c.command(ctx, fmt.Sprintf("SETP %d,%.3f", loop, kelvin)); err != nil {
		return errors.Wrap(device.ErrCommand, err)
	}
	return nil
}

// SetHeaterRange sets the output range: 0 off, 1 low, 2 medium, 3 high.
func (c *Controller) SetHeaterRange(ctx context.Context, loop int, r device.HeaterRange) error {
	if err := checkLoop(loop); err != nil {
		return err
	}
	if r < device.HeaterOff || r > device.HeaterHigh {
		return errors.New().WithData(device.ErrCommand, r.String())
	}
	if err := c.command(ctx, fmt.Sprintf("RANGE %d,%d", loop, int(r))); err != nil {
		return errors.Wrap(device.ErrCommand, err)
	}
	return nil
}

// AllHeatersOff switches both outputs off. Both are attempted even if the
// first fails.
func (c *Controller) AllHeatersOff(ctx context.Context) error {
	var errs []error
	for loop := 1; loop <= 2; loop++ {
		if err := c.command(ctx, fmt.Sprintf("RANGE %d,0", loop)); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Wrap(device.ErrCommand, errors.Join(errs...))
	}
	return nil
}

func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Controller) command(ctx context.Context, cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendLocked(ctx, cmd)
}

func (c *Controller) query(ctx context.Context, q string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sendLocked(ctx, q); err != nil {
		return "", err
	}
	line, err := c.rd.ReadString('\n')
	if err != nil {
		c.rd.Reset(c.conn)
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (c *Controller) sendLocked(ctx context.Context, msg string) error {
	if c.conn == nil {
		return errors.New().New(device.ErrNotConnected)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	c.log.Debug().Str("msg", msg).Msg("Send")
	_, err := io.WriteString(c.conn, msg+terminator)
	return err
}

func (c *Controller) queryFloats(ctx context.Context, q string, n int) ([]float64, error) {
	txt, err := c.query(ctx, q)
	if err != nil {
		return nil, err
	}
	return parseFloats(txt, n)
}

func parseFloats(txt string, n int) ([]float64, error) {
	pieces := strings.Split(txt, ",")
	if len(pieces) != n {
		return nil, errors.New().WithData(ErrBadResponse, txt)
	}
	out := make([]float64, n)
	for i, p := range pieces {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, errors.Wrap(ErrBadResponse, err)
		}
		out[i] = f
	}
	return out, nil
}

func checkLoop(loop int) error {
	if loop != 1 && loop != 2 {
		return errors.New().WithData(device.ErrInvalidLoop, loop)
	}
	return nil
}
