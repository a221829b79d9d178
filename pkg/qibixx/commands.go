// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package qibixx

import (
	"fmt"
	"strconv"
)

// Command builder functions return wire command strings ready for Serialize.
// They are the only place command syntax is spelled out, so a firmware
// syntax change is a single edit.

// CmdSlaveEnable enables cashless-slave mode ("C,1"). The VMC answers with
// c,STATUS,ENABLED once it has addressed the peripheral.
func CmdSlaveEnable() string { return "C,1" }

// CmdSlaveDisable disables cashless-slave mode ("C,0").
func CmdSlaveDisable() string { return "C,0" }

// CmdArmCredit arms the VMC with spendable credit ("C,START,<amount>").
// Valid only while the slave is ENABLED or idle without credit; the firmware
// rejects it mid-vend with c,ERR,"START n".
func CmdArmCredit(amount Amount) string {
	return "C,START," + amount.String()
}

// CmdApproveVend approves the in-flight vend at the given price
// ("C,VEND,<amount>"). The VMC reports c,VEND,SUCCESS after delivery.
func CmdApproveVend(price Amount) string {
	return "C,VEND," + price.String()
}

// CmdVendStop cancels the current slave-side session or vend ("C,STOP").
func CmdVendStop() string { return "C,STOP" }

// CmdMasterStop stops any cashless-master session ("D,STOP").
func CmdMasterStop() string { return "D,STOP" }

// CmdMasterOff powers the cashless-master role off ("D,0"); the reader
// confirms with d,STATUS,OFF.
func CmdMasterOff() string { return "D,0" }

// CmdMasterInit starts master initialization ("D,2"); the reader walks
// through d,STATUS,INIT,<stage>.
func CmdMasterInit() string { return "D,2" }

// CmdReaderEnable enables the attached reader ("D,READER,1"); the reader
// reports d,STATUS,IDLE when ready.
func CmdReaderEnable() string { return "D,READER,1" }

// CmdAuthRequest asks the reader to authorize a purchase
// ("D,REQ,<amount>,<product>"). Exactly one request may be outstanding;
// the terminal response is d,STATUS,RESULT,<code>,... or d,ERR,"<code>".
func CmdAuthRequest(price Amount, product byte) string {
	return fmt.Sprintf("D,REQ,%s,%d", price, product)
}

// CmdSessionEnd ends the current authorization session ("D,END"). Must be
// sent after every terminal RESULT or ERR response.
func CmdSessionEnd() string { return "D,END" }

// CmdSniff enables or disables passive bus sniffing ("X,1" / "X,0").
func CmdSniff(on bool) string {
	if on {
		return "X,1"
	}
	return "X,0"
}

// CmdVersion requests the firmware version line ("V").
func CmdVersion() string { return "V" }

// ProductCode reduces a raw VMC product identifier to the single byte the
// Nayax request field can carry. The VMC identifier space can exceed one
// byte, so the value is reduced modulo 256; non-numeric identifiers map
// to zero.
func ProductCode(raw string) byte {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return byte(n & 0xFF)
}
