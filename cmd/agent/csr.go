package main

import (
	"fmt"

	"github.com/it-novum/openitcockpit-agent-sub000/internal/autossl"
	"github.com/it-novum/openitcockpit-agent-sub000/internal/events"
)

// csr writes a fresh key and CSR to the configured autossl paths and prints
// the CSR.
func (c *cli) csr() error {
	m := autossl.NewManager(autossl.FilesFromConfig(c.cfg), c.cfg.OITC.HostUUID, nil,
		autossl.WithEvents(events.NewEventLogger(c.logger)),
	)
	pem, err := m.GenerateCSR()
	if err != nil {
		return fmt.Errorf("generate csr: %w", err)
	}
	_, err = fmt.Fprint(c.out, string(pem))
	return err
}
