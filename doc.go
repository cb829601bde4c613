/*
Package nlddns keeps a DNS A record synchronized with the IPv4 address of
a network interface, reacting to kernel rtnetlink notifications instead
of polling.

Usage will always start with [New],
which returns a *Client.
New requires the host label whose record is managed,
a [Provider] option for a DNS vendor (such as [UsingCloudflare] or [UsingGandi]),
and the interface to monitor via [UsingInterface].
[Client.Run] then blocks for the process lifetime,
updating the published record only when it diverges from the interface address.
*/
package nlddns
