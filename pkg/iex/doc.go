// Package iex is a client for the IEX Cloud market-data REST service.
//
// Every call goes through the same pipeline: parameters are validated against
// an endpoint descriptor, the executor serves the call from cache or the
// network with retries and rate limiting, and the payload is normalized into
// structured records or a table.
//
// Example usage:
//
//	client, err := iex.New(core.Overrides{core.KeyToken: "pk_..."})
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	resp, err := client.Stock("AAPL", "MSFT").Quote(ctx, iex.WithFormat(core.FormatTabular))
//	if err != nil {
//		return err
//	}
//	fmt.Println(resp.Table().Column("latestPrice"))
//
// Configuration is resolved from explicit overrides, then IEX_* environment
// variables, then an optional config file, then defaults. A token starting
// with Tpk_ or Tsk_ selects the sandbox.
package iex
