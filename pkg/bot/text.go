package bot

const welcomeText = `Send me a t.me message link and I'll fetch the media for you.

Restricted channels need your own account: /login once and private links work too. Send /help for the full command list.`

const termsText = `Welcome! Before using this bot you need to accept the terms:

- You only fetch content you are allowed to access.
- Your session credential is stored so the bot can act on your behalf; /logout removes it at any time.
- Abuse leads to a ban.

Send /agree to accept and continue.`

const helpText = `Commands:
/start - welcome and terms
/login - connect your account for restricted content
/cancel_login - abort a login in progress
/logout - disconnect and delete your stored session
/cancel - cancel your running transfer
/batch <first> <last> - fetch a message range (premium)
/help - this message

Or just send a t.me message link.`
