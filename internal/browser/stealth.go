package browser

// StealthInitScript runs in every browser context before any page
// script, papering over the common headless fingerprints.
const StealthInitScript = `(() => {
	Object.defineProperty(navigator, 'webdriver', { get: () => undefined });

	window.chrome = window.chrome || { runtime: {} };

	Object.defineProperty(navigator, 'languages', {
		get: () => ['pt-BR', 'pt', 'en-US', 'en'],
	});

	Object.defineProperty(navigator, 'plugins', {
		get: () => [1, 2, 3, 4, 5],
	});

	const originalQuery = window.navigator.permissions.query;
	window.navigator.permissions.query = (parameters) => (
		parameters.name === 'notifications'
			? Promise.resolve({ state: Notification.permission })
			: originalQuery(parameters)
	);

	const getParameter = WebGLRenderingContext.prototype.getParameter;
	WebGLRenderingContext.prototype.getParameter = function (parameter) {
		if (parameter === 37445) return 'Intel Inc.';
		if (parameter === 37446) return 'Intel Iris OpenGL Engine';
		return getParameter.call(this, parameter);
	};
})();`
