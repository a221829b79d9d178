// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// mdbridge - Qibixx MDB-HAT cashless payment bridge
//
// Bridges a vending machine controller to a Nayax payment reader over a
// single MDB-HAT serial line, with bus sniffing, capture replay, and
// monitoring tools.

package main

import (
	"os"

	"github.com/Thermoquad/mdbridge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
